package inference

import (
	"image"
	"math"
)

const contourPoints = 16

// estimateLandmarks places the facial features at their usual proportions
// inside the face box.
func estimateLandmarks(face image.Rectangle) Landmarks {
	w := face.Dx()
	h := face.Dy()
	at := func(fx, fy, fw, fh float64) image.Rectangle {
		x := face.Min.X + int(math.Round(fx*float64(w)))
		y := face.Min.Y + int(math.Round(fy*float64(h)))
		return image.Rect(x, y, x+int(math.Round(fw*float64(w))), y+int(math.Round(fh*float64(h))))
	}

	marks := Landmarks{
		LeftEye:  corners(at(0.20, 0.30, 0.20, 0.10)),
		RightEye: corners(at(0.60, 0.30, 0.20, 0.10)),
		Nose:     corners(at(0.42, 0.45, 0.16, 0.20)),
		Mouth:    corners(at(0.30, 0.72, 0.40, 0.12)),
		Contour:  ellipse(face, contourPoints),
	}
	marks.Estimated = []string{FeatureLeftEye, FeatureRightEye, FeatureNose, FeatureMouth, FeatureContour}
	return marks
}

func corners(r image.Rectangle) []image.Point {
	return []image.Point{
		r.Min,
		{X: r.Max.X, Y: r.Min.Y},
		r.Max,
		{X: r.Min.X, Y: r.Max.Y},
	}
}

func ellipse(r image.Rectangle, n int) []image.Point {
	cx := float64(r.Min.X+r.Max.X) / 2
	cy := float64(r.Min.Y+r.Max.Y) / 2
	rx := float64(r.Dx()) / 2
	ry := float64(r.Dy()) / 2

	points := make([]image.Point, n)
	for i := range points {
		a := 2 * math.Pi * float64(i) / float64(n)
		points[i] = image.Pt(int(math.Round(cx+rx*math.Cos(a))), int(math.Round(cy+ry*math.Sin(a))))
	}
	return points
}
