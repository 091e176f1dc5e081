package storage

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

type folderService struct {
	CfgSvc config.IService
}

// NewFolder copies files into the export folder.
func NewFolder(cfgsvc config.IService) IService {
	return &folderService{
		CfgSvc: cfgsvc,
	}
}

func (svc *folderService) StoreFile(fileName string) (_ string, err error) {
	folder := svc.CfgSvc.GetExportFolder()
	if err := os.MkdirAll(folder, 0755); err != nil {
		return "", xerrors.Errorf("creating export folder: %w", err)
	}

	src, err := os.Open(fileName)
	if err != nil {
		return "", xerrors.Errorf("opening %s: %w", fileName, err)
	}
	defer src.Close()

	target := filepath.Join(folder, filepath.Base(fileName))
	dst, err := os.Create(target)
	if err != nil {
		return "", xerrors.Errorf("creating %s: %w", target, err)
	}
	defer func() {
		err = multierr.Append(err, dst.Close())
		if err != nil {
			os.Remove(target)
		}
	}()

	n, err := io.Copy(dst, src)
	if err != nil {
		return "", xerrors.Errorf("copying %s: %w", fileName, err)
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}

	lgr.Logger.Info("file exported",
		slog.String("source", fileName),
		slog.String("target", target),
		slog.Int64("bytes", n),
	)

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
