package pipeline

import (
	"image"
	"math"

	"golang.org/x/xerrors"
)

// NormalizedRect is a box in [0,1] with a lower-left origin, relative to the
// upright image.
type NormalizedRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type NormalizedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform maps normalized upright coordinates onto buffer pixels (top-left
// origin) and back. It is derived from the buffer size and orientation only.
type Transform struct {
	width       int // buffer
	height      int
	orientation Orientation
	uprightW    int
	uprightH    int
}

func NewTransform(width, height int, o Orientation) (Transform, error) {
	if width <= 0 || height <= 0 {
		return Transform{}, xerrors.Errorf("invalid buffer size %dx%d", width, height)
	}
	if !o.Valid() {
		return Transform{}, xerrors.Errorf("invalid orientation %d", o)
	}

	t := Transform{
		width:       width,
		height:      height,
		orientation: o,
		uprightW:    width,
		uprightH:    height,
	}
	if o.SwapsAxes() {
		t.uprightW, t.uprightH = height, width
	}
	return t, nil
}

// UprightSize is the size of the image detection runs on.
func (t Transform) UprightSize() (int, int) {
	return t.uprightW, t.uprightH
}

func (t Transform) BufferBounds() image.Rectangle {
	return image.Rect(0, 0, t.width, t.height)
}

// toBuffer maps a continuous upright position to the buffer.
func (t Transform) toBuffer(u, v float64) (float64, float64) {
	w := float64(t.width)
	h := float64(t.height)

	switch t.orientation {
	case OrientationUpMirrored:
		return w - u, v
	case OrientationDown:
		return w - u, h - v
	case OrientationDownMirrored:
		return u, h - v
	case OrientationLeftMirrored:
		return v, u
	case OrientationRight:
		return v, h - u
	case OrientationRightMirrored:
		return w - v, h - u
	case OrientationLeft:
		return w - v, u
	default:
		return u, v
	}
}

// ToPixel maps a normalized box to a buffer pixel rectangle. The result is
// not clipped.
func (t Transform) ToPixel(r NormalizedRect) image.Rectangle {
	uw := float64(t.uprightW)
	uh := float64(t.uprightH)

	x0, y0 := t.toBuffer(r.X*uw, (1-r.Y-r.H)*uh)
	x1, y1 := t.toBuffer((r.X+r.W)*uw, (1-r.Y)*uh)

	return image.Rect(round(x0), round(y0), round(x1), round(y1))
}

func (t Transform) PointToPixel(p NormalizedPoint) image.Point {
	x, y := t.toBuffer(p.X*float64(t.uprightW), (1-p.Y)*float64(t.uprightH))
	return image.Pt(round(x), round(y))
}

// Normalize converts a rectangle of the upright image (top-left origin).
func (t Transform) Normalize(r image.Rectangle) NormalizedRect {
	uw := float64(t.uprightW)
	uh := float64(t.uprightH)

	return NormalizedRect{
		X: float64(r.Min.X) / uw,
		Y: 1 - float64(r.Max.Y)/uh,
		W: float64(r.Dx()) / uw,
		H: float64(r.Dy()) / uh,
	}
}

func (t Transform) NormalizePoint(p image.Point) NormalizedPoint {
	return NormalizedPoint{
		X: float64(p.X) / float64(t.uprightW),
		Y: 1 - float64(p.Y)/float64(t.uprightH),
	}
}

func round(f float64) int {
	return int(math.Round(f))
}
