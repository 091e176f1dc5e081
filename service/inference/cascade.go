package inference

import (
	"image"
	"log/slog"
	"os"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

type cascadeService struct {
	face   gocv.CascadeClassifier
	eyes   *gocv.CascadeClassifier
	mouth  *gocv.CascadeClassifier
	nose   *gocv.CascadeClassifier
	params config.DetectorParameters
}

// NewCascade loads Haar cascades. The face cascade is required, the feature
// cascades are optional and missing features are estimated from the face box.
func NewCascade(cfgsvc config.IService) (IService, error) {
	params := cfgsvc.GetDetectorParameters()

	face := gocv.NewCascadeClassifier()
	if !face.Load(params.FaceCascade) {
		face.Close()
		return nil, xerrors.Errorf("loading face cascade %s: %w", params.FaceCascade, ErrModelUnavailable)
	}

	svc := &cascadeService{
		face:   face,
		params: params,
	}
	svc.eyes = loadOptional(params.EyeCascade)
	svc.mouth = loadOptional(params.MouthCascade)
	svc.nose = loadOptional(params.NoseCascade)

	lgr.Logger.Info("cascade detector loaded",
		slog.String("face", params.FaceCascade),
		slog.Bool("eyes", svc.eyes != nil),
		slog.Bool("mouth", svc.mouth != nil),
		slog.Bool("nose", svc.nose != nil),
		slog.String("openCV", gocv.Version()),
	)
	return svc, nil
}

func loadOptional(path string) *gocv.CascadeClassifier {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil
	}
	return &c
}

func (svc *cascadeService) DetectFaces(img gocv.Mat) ([]Face, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	gray := grayscale(img)
	defer gray.Close()

	rects := svc.face.DetectMultiScale(gray)
	faces := make([]Face, 0, len(rects))
	for _, r := range rects {
		faces = append(faces, Face{Rect: r, Confidence: 1})
	}
	return faces, nil
}

func (svc *cascadeService) DetectLandmarks(img gocv.Mat, face image.Rectangle) (Landmarks, error) {
	if img.Empty() {
		return Landmarks{}, ErrEmptyImage
	}

	face = face.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if face.Empty() {
		return Landmarks{}, xerrors.Errorf("face %v outside image", face)
	}

	gray := grayscale(img)
	defer gray.Close()

	marks := estimateLandmarks(face)
	h := face.Dy()

	// Eyes in the upper half, nose in the middle band, mouth in the lower third.
	upper := image.Rect(face.Min.X, face.Min.Y, face.Max.X, face.Min.Y+h/2)
	if eyes := detectIn(svc.eyes, gray, upper); len(eyes) >= 2 {
		sort.Slice(eyes, func(i, j int) bool { return eyes[i].Min.X < eyes[j].Min.X })
		marks.LeftEye = corners(eyes[0])
		marks.RightEye = corners(eyes[len(eyes)-1])
		marks.Estimated = lo.Without(marks.Estimated, FeatureLeftEye, FeatureRightEye)
	}

	middle := image.Rect(face.Min.X, face.Min.Y+h/3, face.Max.X, face.Min.Y+3*h/4)
	if noses := detectIn(svc.nose, gray, middle); len(noses) > 0 {
		marks.Nose = corners(noses[0])
		marks.Estimated = lo.Without(marks.Estimated, FeatureNose)
	}

	lower := image.Rect(face.Min.X, face.Min.Y+2*h/3, face.Max.X, face.Max.Y)
	if mouths := detectIn(svc.mouth, gray, lower); len(mouths) > 0 {
		marks.Mouth = corners(mouths[0])
		marks.Estimated = lo.Without(marks.Estimated, FeatureMouth)
	}

	return marks, nil
}

// detectIn runs c on a region of img and returns rects in img coordinates.
func detectIn(c *gocv.CascadeClassifier, img gocv.Mat, region image.Rectangle) []image.Rectangle {
	if c == nil || region.Empty() {
		return nil
	}

	roi := img.Region(region)
	defer roi.Close()

	found := c.DetectMultiScale(roi)
	for i := range found {
		found[i] = found[i].Add(region.Min)
	}
	return found
}

func (svc *cascadeService) Close() error {
	err := svc.face.Close()
	for _, c := range []*gocv.CascadeClassifier{svc.eyes, svc.mouth, svc.nose} {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

func grayscale(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	equalized := gocv.NewMat()
	gocv.EqualizeHist(gray, &equalized)
	gray.Close() // Crucial to close the image to avoid memory leaks
	return equalized
}
