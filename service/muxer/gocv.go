package muxer

import (
	"image"
	"log/slog"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/lgr"
)

// WARNING:
// GoCV's VideoWriter ignores the timescale, frames are timed by their index
// alone. The constant frame rate grid in queuedWriter keeps that correct.
type gocvService struct{}

func NewGoCV() IService {
	return &gocvService{}
}

func (svc *gocvService) Open(path string, settings Settings) (Writer, error) {
	if settings.Width <= 0 || settings.Height <= 0 || settings.FPS <= 0 {
		return nil, xerrors.Errorf("invalid settings %dx%d@%.2f", settings.Width, settings.Height, settings.FPS)
	}

	vw, err := gocv.VideoWriterFile(path, settings.Codec, settings.FPS, settings.Width, settings.Height, true)
	if err != nil {
		return nil, xerrors.Errorf("creating video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, xerrors.Errorf("video writer %s (%s) did not open", path, settings.Codec)
	}

	lgr.Logger.Info("gocv muxer opened",
		slog.String("path", path),
		slog.String("codec", settings.Codec),
		slog.Int("width", settings.Width),
		slog.Int("height", settings.Height),
		slog.Float64("fps", settings.FPS),
	)

	return newQueuedWriter(path, settings, &gocvBackend{
		vw:     vw,
		width:  settings.Width,
		height: settings.Height,
	}), nil
}

type gocvBackend struct {
	vw     *gocv.VideoWriter
	width  int
	height int
}

func (b *gocvBackend) write(img gocv.Mat) error {
	frame, release, err := conform(img, b.width, b.height)
	if err != nil {
		return err
	}
	defer release()

	return b.vw.Write(frame)
}

func (b *gocvBackend) close() error {
	return b.vw.Close()
}

// conform returns img as a BGR frame of the output size.
func conform(img gocv.Mat, width, height int) (gocv.Mat, func(), error) {
	frame := img
	var owned []gocv.Mat
	release := func() {
		for i := range owned {
			owned[i].Close() // Crucial to close the image to avoid memory leaks
		}
	}

	if frame.Channels() != 3 {
		bgr := gocv.NewMat()
		owned = append(owned, bgr)
		if frame.Channels() == 1 {
			gocv.CvtColor(frame, &bgr, gocv.ColorGrayToBGR)
		} else {
			gocv.CvtColor(frame, &bgr, gocv.ColorBGRAToBGR)
		}
		frame = bgr
	}

	if frame.Cols() != width || frame.Rows() != height {
		lgr.Logger.Debug("frame dimensions do not match video dimensions, resizing frame",
			slog.Int("frame_cols", frame.Cols()),
			slog.Int("frame_rows", frame.Rows()),
			slog.Int("video_cols", width),
			slog.Int("video_rows", height),
		)

		resized := gocv.NewMat()
		owned = append(owned, resized)
		if err := gocv.Resize(frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear); err != nil {
			release()
			return gocv.Mat{}, func() {}, xerrors.Errorf("resizing frame: %w", err)
		}
		frame = resized
	}

	if frame.Empty() {
		release()
		return gocv.Mat{}, func() {}, xerrors.New("frame conversion produced an empty image")
	}
	return frame, release, nil
}
