package inference

import (
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// FakeBox is a face box as fractions of the image size (top-left origin).
type FakeBox struct {
	X, Y, W, H float64
}

type FakeService struct {
	mu    sync.Mutex
	boxes []FakeBox
	err   error
	calls int
}

// NewFake "detects" the given boxes in every image.
func NewFake(boxes ...FakeBox) *FakeService {
	return &FakeService{
		boxes: boxes,
	}
}

// Fail makes subsequent detections return err (nil restores them).
func (svc *FakeService) Fail(err error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.err = err
}

func (svc *FakeService) Calls() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.calls
}

func (svc *FakeService) DetectFaces(img gocv.Mat) ([]Face, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.calls++
	if svc.err != nil {
		return nil, svc.err
	}
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	cols := float64(img.Cols())
	rows := float64(img.Rows())
	faces := make([]Face, 0, len(svc.boxes))
	for _, b := range svc.boxes {
		x := int(math.Round(b.X * cols))
		y := int(math.Round(b.Y * rows))
		faces = append(faces, Face{
			Rect:       image.Rect(x, y, x+int(math.Round(b.W*cols)), y+int(math.Round(b.H*rows))),
			Confidence: 1,
		})
	}
	return faces, nil
}

func (svc *FakeService) DetectLandmarks(_ gocv.Mat, face image.Rectangle) (Landmarks, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.err != nil {
		return Landmarks{}, svc.err
	}
	return estimateLandmarks(face), nil
}

func (svc *FakeService) Close() error {
	return nil
}
