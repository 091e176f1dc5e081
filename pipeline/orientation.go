package pipeline

import (
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

// Orientation is an EXIF orientation (1-8): how the stored buffer must be
// transformed to look upright.
type Orientation int

const (
	OrientationUp            Orientation = 1 // 0th row top, 0th column left
	OrientationUpMirrored    Orientation = 2
	OrientationDown          Orientation = 3
	OrientationDownMirrored  Orientation = 4
	OrientationLeftMirrored  Orientation = 5
	OrientationRight         Orientation = 6
	OrientationRightMirrored Orientation = 7
	OrientationLeft          Orientation = 8
)

func (o Orientation) Valid() bool {
	return o >= OrientationUp && o <= OrientationLeft
}

// SwapsAxes reports whether the upright image is the buffer transposed.
func (o Orientation) SwapsAxes() bool {
	return o >= OrientationLeftMirrored
}

type DeviceOrientation string

const (
	DevicePortrait           DeviceOrientation = "portrait"
	DevicePortraitUpsideDown DeviceOrientation = "portraitUpsideDown"
	DeviceLandscapeLeft      DeviceOrientation = "landscapeLeft"
	DeviceLandscapeRight     DeviceOrientation = "landscapeRight"
)

type CameraPosition string

const (
	CameraFront CameraPosition = "front"
	CameraBack  CameraPosition = "back"
)

// ExifOrientation maps the device orientation and camera position to the
// orientation of the buffers the camera delivers.
func ExifOrientation(device DeviceOrientation, position CameraPosition) Orientation {
	front := position == CameraFront

	switch device {
	case DevicePortraitUpsideDown:
		return OrientationLeft
	case DeviceLandscapeLeft:
		if front {
			return OrientationDown
		}
		return OrientationUp
	case DeviceLandscapeRight:
		if front {
			return OrientationUp
		}
		return OrientationDown
	default:
		if front {
			return OrientationLeftMirrored
		}
		return OrientationRight
	}
}

// orientUpright writes the upright version of src into dst. Orientation 1 is
// a plain copy.
func orientUpright(src gocv.Mat, dst *gocv.Mat, o Orientation) error {
	switch o {
	case OrientationUp:
		src.CopyTo(dst)
	case OrientationUpMirrored:
		gocv.Flip(src, dst, 1)
	case OrientationDown:
		gocv.Flip(src, dst, -1)
	case OrientationDownMirrored:
		gocv.Flip(src, dst, 0)
	case OrientationLeftMirrored:
		gocv.Transpose(src, dst)
	case OrientationRight:
		gocv.Rotate(src, dst, gocv.Rotate90Clockwise)
	case OrientationRightMirrored:
		tmp := gocv.NewMat()
		defer tmp.Close()
		gocv.Transpose(src, &tmp)
		gocv.Flip(tmp, dst, -1)
	case OrientationLeft:
		gocv.Rotate(src, dst, gocv.Rotate90CounterClockwise)
	default:
		return xerrors.Errorf("invalid orientation %d", o)
	}

	if dst.Empty() {
		return xerrors.Errorf("orienting buffer (%d) produced an empty image", o)
	}
	return nil
}
