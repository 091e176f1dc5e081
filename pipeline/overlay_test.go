package pipeline

import (
	"context"
	"hash/crc32"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-face/service/config"
)

func checksum(t *testing.T, buf *PixelBuffer) uint32 {
	t.Helper()
	var sum uint32
	require.NoError(t, buf.Read(func(mat gocv.Mat) error {
		sum = crc32.ChecksumIEEE(mat.ToBytes())
		return nil
	}))
	return sum
}

func centeredFace() DetectedFace {
	return DetectedFace{
		BoundingBox: NormalizedRect{X: 0.4, Y: 0.4, W: 0.2, H: 0.2},
		Confidence:  1,
	}
}

func TestRenderDrawsBoxOnCopy(t *testing.T) {
	r := NewOverlayRenderer(config.OverlayParameters{Thickness: 2})
	defer r.Close()

	frame := solidFrame(1, 0, 640, 480)
	defer frame.Release()
	before := checksum(t, frame.Buffer)

	annotated, err := r.Render(context.Background(), frame, &DetectionResultSet{
		Seq:         1,
		Orientation: OrientationUp,
		Faces:       []DetectedFace{centeredFace()},
	})
	require.NoError(t, err)
	defer annotated.Close()

	assert.Equal(t, 1, annotated.Faces)
	assert.Equal(t, 0, annotated.Skipped)
	assert.Equal(t, before, checksum(t, frame.Buffer))

	// Left edge of the box is x=256, between y=192 and y=288
	px := annotated.Mat.GetVecbAt(240, 256)
	assert.Equal(t, []uint8{0, 255, 0}, []uint8{px[0], px[1], px[2]})

	inside := annotated.Mat.GetVecbAt(240, 320)
	assert.Equal(t, []uint8{80, 80, 80}, []uint8{inside[0], inside[1], inside[2]})
}

func TestRenderWithoutResults(t *testing.T) {
	r := NewOverlayRenderer(config.OverlayParameters{})
	defer r.Close()

	frame := solidFrame(4, 0, 64, 48)
	defer frame.Release()

	annotated, err := r.Render(context.Background(), frame, nil)
	require.NoError(t, err)
	defer annotated.Close()

	assert.Equal(t, uint64(4), annotated.Seq)
	assert.Equal(t, 0, annotated.Faces)
	assert.Equal(t, 64, annotated.Mat.Cols())
	assert.Equal(t, 48, annotated.Mat.Rows())
}

func TestRenderRejectsForeignResults(t *testing.T) {
	r := NewOverlayRenderer(config.OverlayParameters{})
	defer r.Close()

	frame := solidFrame(1, 0, 64, 48)
	defer frame.Release()

	_, err := r.Render(context.Background(), frame, &DetectionResultSet{Seq: 2, Orientation: OrientationUp, Faces: []DetectedFace{}})
	assert.ErrorIs(t, err, ErrResultMismatch)
}

func TestRenderSkipsFacesOutsideBuffer(t *testing.T) {
	r := NewOverlayRenderer(config.OverlayParameters{Thickness: 1})
	defer r.Close()

	frame := solidFrame(1, 0, 64, 48)
	defer frame.Release()

	annotated, err := r.Render(context.Background(), frame, &DetectionResultSet{
		Seq:         1,
		Orientation: OrientationUp,
		Faces: []DetectedFace{
			{BoundingBox: NormalizedRect{X: 1.5, Y: 0.2, W: 0.2, H: 0.2}},
			centeredFace(),
		},
	})
	require.NoError(t, err)
	defer annotated.Close()

	assert.Equal(t, 1, annotated.Faces)
	assert.Equal(t, 1, annotated.Skipped)
	assert.Equal(t, 1, r.Skipped())
}

func TestRenderDrawsLandmarks(t *testing.T) {
	r := NewOverlayRenderer(config.OverlayParameters{Thickness: 1, DrawLandmarks: true})
	defer r.Close()

	frame := solidFrame(1, 0, 640, 480)
	defer frame.Release()

	face := centeredFace()
	face.Landmarks = &Landmarks{Nose: []NormalizedPoint{{X: 0.5, Y: 0.5}}}

	annotated, err := r.Render(context.Background(), frame, &DetectionResultSet{Seq: 1, Orientation: OrientationUp, Faces: []DetectedFace{face}})
	require.NoError(t, err)
	defer annotated.Close()

	px := annotated.Mat.GetVecbAt(240, 320)
	assert.Equal(t, []uint8{0, 200, 255}, []uint8{px[0], px[1], px[2]})
}

func TestRenderWithAsset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asset.png")
	red := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 0), 16, 16, gocv.MatTypeCV8UC3)
	require.True(t, gocv.IMWrite(path, red))
	red.Close()

	r := NewOverlayRenderer(config.OverlayParameters{AssetPath: path})
	defer r.Close()

	frame := solidFrame(1, 0, 640, 480)
	defer frame.Release()

	annotated, err := r.Render(context.Background(), frame, &DetectionResultSet{
		Seq:         1,
		Orientation: OrientationRight,
		Faces:       []DetectedFace{centeredFace()},
	})
	require.NoError(t, err)
	defer annotated.Close()

	assert.Equal(t, 1, annotated.Faces)
	center := annotated.Mat.GetVecbAt(240, 320)
	assert.Equal(t, []uint8{0, 0, 255}, []uint8{center[0], center[1], center[2]})

	corner := annotated.Mat.GetVecbAt(5, 5)
	assert.Equal(t, []uint8{80, 80, 80}, []uint8{corner[0], corner[1], corner[2]})
}

func TestRenderMissingAssetFallsBackToOutline(t *testing.T) {
	r := NewOverlayRenderer(config.OverlayParameters{
		AssetPath: filepath.Join(t.TempDir(), "missing.png"),
		Thickness: 2,
	})
	defer r.Close()

	frame := solidFrame(1, 0, 640, 480)
	defer frame.Release()

	annotated, err := r.Render(context.Background(), frame, &DetectionResultSet{
		Seq:         1,
		Orientation: OrientationUp,
		Faces:       []DetectedFace{centeredFace()},
	})
	require.NoError(t, err)
	defer annotated.Close()

	assert.Equal(t, 1, annotated.Faces)
	edge := annotated.Mat.GetVecbAt(240, 256)
	assert.Equal(t, []uint8{0, 255, 0}, []uint8{edge[0], edge[1], edge[2]})
	inside := annotated.Mat.GetVecbAt(240, 320)
	assert.Equal(t, []uint8{80, 80, 80}, []uint8{inside[0], inside[1], inside[2]})
}
