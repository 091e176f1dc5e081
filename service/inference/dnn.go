package inference

import (
	"image"
	"log/slog"
	"os"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

const (
	dnnInputSize = 300
	// Each detection row: [batch, class, confidence, x1, y1, x2, y2]
	dnnRowSize = 7
)

// dnnService runs the OpenCV res10 SSD face detector.
type dnnService struct {
	net       gocv.Net
	threshold float32
}

func NewDNN(cfgsvc config.IService) (IService, error) {
	params := cfgsvc.GetDetectorParameters()

	if _, err := os.Stat(params.ModelPath); os.IsNotExist(err) {
		return nil, xerrors.Errorf("model %s: %w", params.ModelPath, ErrModelUnavailable)
	}

	// WARNING: net is not thread-safe!!!
	net := gocv.ReadNet(params.ModelPath, params.ConfigPath)
	if net.Empty() {
		return nil, xerrors.Errorf("reading model %s: %w", params.ModelPath, ErrModelUnavailable)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, xerrors.Errorf("setting backend: %w", err)
	}

	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, xerrors.Errorf("setting target: %w", err)
	}

	lgr.Logger.Info("dnn detector loaded",
		slog.String("model", params.ModelPath),
		slog.Float64("threshold", float64(params.ConfidenceThreshold)),
		slog.String("openCV", gocv.Version()),
	)

	return &dnnService{
		net:       net,
		threshold: params.ConfidenceThreshold,
	}, nil
}

func (svc *dnnService) DetectFaces(img gocv.Mat) ([]Face, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	input := img
	if img.Channels() != 3 {
		input = gocv.NewMat()
		defer input.Close()
		if img.Channels() == 1 {
			gocv.CvtColor(img, &input, gocv.ColorGrayToBGR)
		} else {
			gocv.CvtColor(img, &input, gocv.ColorBGRAToBGR)
		}
	}

	blob := gocv.BlobFromImage(input, 1.0, image.Pt(dnnInputSize, dnnInputSize), gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	svc.net.SetInput(blob, "")

	output := svc.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, xerrors.Errorf("reading dnn output: %w", err)
	}

	return decodeDetections(data, img.Cols(), img.Rows(), svc.threshold), nil
}

func decodeDetections(data []float32, cols, rows int, threshold float32) []Face {
	bounds := image.Rect(0, 0, cols, rows)
	faces := []Face{}
	for i := 0; i+dnnRowSize <= len(data); i += dnnRowSize {
		confidence := data[i+2]
		if confidence < threshold {
			continue
		}

		rect := image.Rect(
			int(data[i+3]*float32(cols)),
			int(data[i+4]*float32(rows)),
			int(data[i+5]*float32(cols)),
			int(data[i+6]*float32(rows)),
		).Intersect(bounds)
		if rect.Empty() {
			continue
		}

		faces = append(faces, Face{Rect: rect, Confidence: confidence})
	}
	return faces
}

// The res10 model has no landmark head, so every feature set is reported Estimated.
func (svc *dnnService) DetectLandmarks(img gocv.Mat, face image.Rectangle) (Landmarks, error) {
	if img.Empty() {
		return Landmarks{}, ErrEmptyImage
	}
	return estimateLandmarks(face), nil
}

func (svc *dnnService) Close() error {
	return svc.net.Close()
}
