package inference

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
)

func TestDecodeDetections(t *testing.T) {
	data := []float32{
		0, 1, 0.9, 0.25, 0.25, 0.75, 0.75,
		0, 1, 0.2, 0.10, 0.10, 0.20, 0.20, // below threshold
		0, 1, 0.8, 0.90, 0.90, 1.20, 1.20, // clipped to the image
	}

	faces := decodeDetections(data, 200, 100, 0.5)
	require.Len(t, faces, 2)
	assert.Equal(t, image.Rect(50, 25, 150, 75), faces[0].Rect)
	assert.InDelta(t, 0.9, faces[0].Confidence, 1e-6)
	assert.Equal(t, image.Rect(180, 90, 200, 100), faces[1].Rect)
}

func TestDecodeDetectionsIgnoresPartialRow(t *testing.T) {
	faces := decodeDetections([]float32{0, 1, 0.9}, 100, 100, 0.5)
	assert.NotNil(t, faces)
	assert.Empty(t, faces)
}

func TestEstimateLandmarks(t *testing.T) {
	face := image.Rect(100, 100, 200, 200)
	marks := estimateLandmarks(face)

	assert.Len(t, marks.LeftEye, 4)
	assert.Len(t, marks.RightEye, 4)
	assert.Len(t, marks.Contour, contourPoints)
	assert.Equal(t, []string{FeatureLeftEye, FeatureRightEye, FeatureNose, FeatureMouth, FeatureContour}, marks.Estimated)
	assert.Less(t, marks.LeftEye[0].X, marks.RightEye[0].X)
	assert.Less(t, marks.LeftEye[0].Y, marks.Mouth[0].Y)
	for _, p := range marks.Contour {
		assert.True(t, p.In(image.Rect(100, 100, 201, 201)), "contour point %v outside face", p)
	}
}

func TestFakeDetectsScaledBoxes(t *testing.T) {
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()

	svc := NewFake(FakeBox{X: 0.4, Y: 0.4, W: 0.2, H: 0.2})
	faces, err := svc.DetectFaces(img)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.Equal(t, image.Rect(256, 192, 384, 288), faces[0].Rect)
	assert.Equal(t, 1, svc.Calls())
}

func TestFakeNoFaces(t *testing.T) {
	img := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer img.Close()

	faces, err := NewFake().DetectFaces(img)
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestFakeFailure(t *testing.T) {
	img := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3)
	defer img.Close()

	boom := xerrors.New("boom")
	svc := NewFake(FakeBox{W: 1, H: 1})
	svc.Fail(boom)

	_, err := svc.DetectFaces(img)
	assert.ErrorIs(t, err, boom)

	svc.Fail(nil)
	faces, err := svc.DetectFaces(img)
	require.NoError(t, err)
	assert.Len(t, faces, 1)
}

func TestMissingModels(t *testing.T) {
	cfgSvc := config.NewHardCoded(func(s *config.Settings) {
		s.Detector.FaceCascade = "./does-not-exist.xml"
		s.Detector.ModelPath = "./does-not-exist.caffemodel"
	})

	_, err := NewCascade(cfgSvc)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	_, err = NewDNN(cfgSvc)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestFakeLandmarksAreEstimated(t *testing.T) {
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()

	svc := NewFake()
	marks, err := svc.DetectLandmarks(img, image.Rect(100, 100, 200, 200))
	require.NoError(t, err)
	assert.Len(t, marks.Estimated, 5)
	assert.Contains(t, marks.Estimated, FeatureContour)
}
