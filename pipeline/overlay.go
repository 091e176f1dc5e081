package pipeline

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

var ErrResultMismatch = xerrors.New("detection results belong to another frame")

var (
	boxColor      = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	landmarkColor = color.RGBA{R: 255, G: 200, B: 0, A: 0}
)

type assetKey struct {
	orientation Orientation
	channels    int
}

// OverlayRenderer composites detections onto a copy of the frame. Faces are
// outlined when no asset image is available.
type OverlayRenderer struct {
	asset         gocv.Mat
	withAsset     bool
	oriented      map[assetKey]gocv.Mat
	thickness     int
	drawLandmarks bool
	sometimes     rate.Sometimes

	skipped int
}

func NewOverlayRenderer(params config.OverlayParameters) *OverlayRenderer {
	r := &OverlayRenderer{
		oriented:      map[assetKey]gocv.Mat{},
		thickness:     params.Thickness,
		drawLandmarks: params.DrawLandmarks,
		sometimes:     rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	if r.thickness <= 0 {
		r.thickness = 1
	}

	if params.AssetPath != "" {
		asset := gocv.IMRead(params.AssetPath, gocv.IMReadColor)
		if asset.Empty() {
			asset.Close()
			lgr.Logger.Warn("overlay asset unavailable, drawing outlines instead", slog.String("asset", params.AssetPath))
			return r
		}
		r.asset = asset
		r.withAsset = true
	}
	return r
}

// Render draws results onto a copy of frame. The frame is never modified. A
// nil results set yields a plain copy.
func (r *OverlayRenderer) Render(ctx context.Context, frame Frame, results *DetectionResultSet) (*AnnotatedFrame, error) {
	if frame.Buffer == nil {
		return nil, xerrors.New("frame has no buffer")
	}
	if results != nil && results.Seq != frame.Seq {
		return nil, xerrors.Errorf("frame %d, results %d: %w", frame.Seq, results.Seq, ErrResultMismatch)
	}

	dst, err := frame.Buffer.Copy()
	if err != nil {
		return nil, err
	}

	annotated := &AnnotatedFrame{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Mat:       dst,
	}
	if results == nil {
		return annotated, nil
	}

	transform, err := NewTransform(frame.Buffer.Width(), frame.Buffer.Height(), results.Orientation)
	if err != nil {
		annotated.Close()
		return nil, err
	}
	bounds := transform.BufferBounds()

	for i, face := range results.Faces {
		rect := transform.ToPixel(face.BoundingBox)
		if err := r.drawFace(&annotated.Mat, rect, bounds, results.Orientation); err != nil {
			annotated.Skipped++
			r.skipped++
			r.sometimes.Do(func() {
				lgr.Logger.WarnContext(ctx, "face overlay skipped",
					slog.Uint64("seq", frame.Seq),
					slog.Int("face", i),
					slog.Any("rect", rect),
					lgr.Err(err),
				)
			})
			continue
		}

		if r.drawLandmarks {
			for _, p := range face.Landmarks.All() {
				pt := transform.PointToPixel(p)
				if pt.In(bounds) {
					gocv.Circle(&annotated.Mat, pt, 2, landmarkColor, -1)
				}
			}
		}
		annotated.Faces++
	}

	return annotated, nil
}

func (r *OverlayRenderer) drawFace(dst *gocv.Mat, rect, bounds image.Rectangle, o Orientation) error {
	clipped := rect.Intersect(bounds)
	if clipped.Empty() {
		return xerrors.New("face outside of the buffer")
	}

	if !r.withAsset {
		gocv.Rectangle(dst, rect, boxColor, r.thickness)
		return nil
	}

	asset, err := r.assetFor(o, dst.Channels())
	if err != nil {
		return err
	}

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(asset, &resized, image.Pt(rect.Dx(), rect.Dy()), 0, 0, gocv.InterpolationLinear); err != nil {
		return xerrors.Errorf("resizing overlay asset: %w", err)
	}

	src := resized.Region(clipped.Sub(rect.Min))
	defer src.Close()
	target := dst.Region(clipped)
	defer target.Close()

	src.CopyTo(&target)
	return nil
}

// assetFor returns the asset rotated into buffer space (the inverse of the
// orientation) with the given channel count.
func (r *OverlayRenderer) assetFor(o Orientation, channels int) (gocv.Mat, error) {
	key := assetKey{orientation: o, channels: channels}
	if m, ok := r.oriented[key]; ok {
		return m, nil
	}

	inverse := o
	switch o {
	case OrientationRight:
		inverse = OrientationLeft
	case OrientationLeft:
		inverse = OrientationRight
	}

	rotated := gocv.NewMat()
	if err := orientUpright(r.asset, &rotated, inverse); err != nil {
		rotated.Close()
		return gocv.Mat{}, err
	}

	if channels != rotated.Channels() {
		converted := gocv.NewMat()
		switch channels {
		case 1:
			gocv.CvtColor(rotated, &converted, gocv.ColorBGRToGray)
		case 4:
			gocv.CvtColor(rotated, &converted, gocv.ColorBGRToBGRA)
		}
		rotated.Close()
		if converted.Empty() {
			converted.Close()
			return gocv.Mat{}, xerrors.Errorf("converting overlay asset to %d channels", channels)
		}
		rotated = converted
	}

	r.oriented[key] = rotated
	return rotated, nil
}

func (r *OverlayRenderer) Skipped() int {
	return r.skipped
}

func (r *OverlayRenderer) Close() error {
	var err error
	for _, m := range r.oriented {
		err = multierr.Append(err, m.Close())
	}
	if r.withAsset {
		err = multierr.Append(err, r.asset.Close())
	}
	return err
}
