package pipeline

import (
	"context"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/inference"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// FaceDetector runs detection synchronously on the frame-delivery goroutine.
type FaceDetector struct {
	svc          inference.IService
	mode         DetectionMode
	orientation  func() Orientation
	journal      *Journal
	sometimes    rate.Sometimes
	estimateOnce sync.Once

	errors int
}

func NewFaceDetector(svc inference.IService, mode DetectionMode, orientation func() Orientation, journal *Journal) *FaceDetector {
	if orientation == nil {
		orientation = func() Orientation { return OrientationUp }
	}

	return &FaceDetector{
		svc:         svc,
		mode:        mode,
		orientation: orientation,
		journal:     journal,
		sometimes:   rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Detect never fails: a backend failure is logged and yields an empty set.
func (d *FaceDetector) Detect(ctx context.Context, frame Frame) *DetectionResultSet {
	o := d.orientation()
	if !o.Valid() {
		o = OrientationUp
	}

	results := &DetectionResultSet{
		Seq:         frame.Seq,
		Timestamp:   frame.Timestamp,
		Orientation: o,
		Faces:       []DetectedFace{},
	}

	faces, err := d.detect(ctx, frame, o)
	if err != nil {
		d.errors++
		d.sometimes.Do(func() {
			lgr.Logger.WarnContext(ctx, "face detection failed",
				slog.Uint64("seq", frame.Seq),
				slog.Int("errors", d.errors),
				lgr.Err(err),
			)
		})
		return results
	}

	results.Faces = faces
	d.journal.Record(results)
	return results
}

func (d *FaceDetector) detect(ctx context.Context, frame Frame, o Orientation) ([]DetectedFace, error) {
	if frame.Buffer == nil {
		return nil, xerrors.New("frame has no buffer")
	}

	transform, err := NewTransform(frame.Buffer.Width(), frame.Buffer.Height(), o)
	if err != nil {
		return nil, err
	}

	faces := []DetectedFace{}
	err = frame.Buffer.Read(func(mat gocv.Mat) error {
		upright := mat
		if o != OrientationUp {
			oriented := gocv.NewMat()
			defer oriented.Close()
			if err := orientUpright(mat, &oriented, o); err != nil {
				return err
			}
			upright = oriented
		}

		found, err := d.svc.DetectFaces(upright)
		if err != nil {
			return err
		}

		for _, f := range found {
			face := DetectedFace{
				BoundingBox: transform.Normalize(f.Rect),
				Confidence:  f.Confidence,
			}

			if d.mode == DetectLandmarks {
				marks, err := d.svc.DetectLandmarks(upright, f.Rect)
				if err != nil {
					d.sometimes.Do(func() {
						lgr.Logger.WarnContext(ctx, "landmark detection failed", slog.Uint64("seq", frame.Seq), lgr.Err(err))
					})
				} else {
					face.Landmarks = normalizeLandmarks(transform, marks)
					if len(marks.Estimated) > 0 {
						d.estimateOnce.Do(func() {
							lgr.Logger.InfoContext(ctx, "landmarks estimated from face proportions", slog.Any("features", marks.Estimated))
						})
					}
				}
			}

			faces = append(faces, face)
		}
		return nil
	})

	return faces, err
}

func normalizeLandmarks(t Transform, marks inference.Landmarks) *Landmarks {
	convert := func(points []image.Point) []NormalizedPoint {
		out := make([]NormalizedPoint, len(points))
		for i, p := range points {
			out[i] = t.NormalizePoint(p)
		}
		return out
	}

	return &Landmarks{
		LeftEye:   convert(marks.LeftEye),
		RightEye:  convert(marks.RightEye),
		Nose:      convert(marks.Nose),
		Mouth:     convert(marks.Mouth),
		Contour:   convert(marks.Contour),
		Estimated: slices.Clone(marks.Estimated),
	}
}

func (d *FaceDetector) Errors() int {
	return d.errors
}
