package inference

import (
	"image"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

var (
	ErrModelUnavailable = xerrors.New("inference model unavailable")
	ErrEmptyImage       = xerrors.New("empty image")
)

// Face is a detection in pixel coordinates of the image it was found in
// (top-left origin).
type Face struct {
	Rect       image.Rectangle `json:"rect"`
	Confidence float32         `json:"confidence"`
}

// Landmarks are point sets in pixel coordinates of the image (top-left origin).
type Landmarks struct {
	LeftEye  []image.Point `json:"leftEye"`
	RightEye []image.Point `json:"rightEye"`
	Nose     []image.Point `json:"nose"`
	Mouth    []image.Point `json:"mouth"`
	Contour  []image.Point `json:"contour"`

	// Feature sets placed at their usual proportions inside the face box
	// instead of being detected
	Estimated []string `json:"estimated,omitempty"`
}

const (
	FeatureLeftEye  = "leftEye"
	FeatureRightEye = "rightEye"
	FeatureNose     = "nose"
	FeatureMouth    = "mouth"
	FeatureContour  = "contour"
)

// IService detects faces in an upright BGR (or gray) image. Implementations are
// not safe for concurrent use.
type IService interface {
	DetectFaces(img gocv.Mat) ([]Face, error)
	DetectLandmarks(img gocv.Mat, face image.Rectangle) (Landmarks, error)
	Close() error
}
