package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

var (
	// ErrSourceUnavailable is terminal: the source delivers no more frames.
	ErrSourceUnavailable = xerrors.New("frame source unavailable")
	// ErrFrameUnavailable is transient: try again.
	ErrFrameUnavailable = xerrors.New("frame not available")
)

// stamper hands out strictly increasing timestamps, in seconds since start.
type stamper struct {
	clk     clock.Clock
	start   time.Time
	last    float64
	started bool
}

func newStamper(clk clock.Clock) *stamper {
	return &stamper{
		clk:   clk,
		start: clk.Now(),
	}
}

func (s *stamper) stamp() float64 {
	ts := s.clk.Now().Sub(s.start).Seconds()
	if s.started && ts <= s.last {
		ts = math.Nextafter(s.last, math.Inf(1))
	}
	s.last = ts
	s.started = true
	return ts
}

type deviceSource struct {
	capture     *gocv.VideoCapture
	device      string
	format      VideoFormat
	stamper     *stamper
	intrinsics  *Intrinsics
	seq         uint64
	failures    int
	maxFailures int
}

func (s *deviceSource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	img := gocv.NewMat()
	if ok := s.capture.Read(&img); !ok || img.Empty() {
		img.Close() // Crucial to close the image to avoid memory leaks
		s.failures++
		if s.failures >= s.maxFailures || !s.capture.IsOpened() {
			return Frame{}, xerrors.Errorf("device %s failed %d consecutive reads: %w", s.device, s.failures, ErrSourceUnavailable)
		}
		return Frame{}, ErrFrameUnavailable
	}

	s.failures = 0
	s.seq++
	return Frame{
		Seq:        s.seq,
		Timestamp:  s.stamper.stamp(),
		Buffer:     NewPixelBuffer(img),
		Intrinsics: s.intrinsics,
	}, nil
}

func (s *deviceSource) Format() VideoFormat {
	return s.format
}

func (s *deviceSource) Close() error {
	return s.capture.Close()
}

type SyntheticOptions struct {
	Width  int
	Height int
	FPS    float64
	// Frames to deliver before the source reports ErrSourceUnavailable (0 is unlimited)
	Frames int
	// Paces delivery at FPS when set, otherwise frames are produced on demand
	Clock      clock.Clock
	Intrinsics *Intrinsics
}

// syntheticSource produces solid frames whose timestamps are seq/fps.
type syntheticSource struct {
	opts   SyntheticOptions
	ticker *clock.Ticker
	seq    uint64
}

func NewSyntheticSource(opts SyntheticOptions) (FrameSource, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
		return nil, xerrors.Errorf("invalid synthetic format %dx%d@%.2f", opts.Width, opts.Height, opts.FPS)
	}

	s := &syntheticSource{opts: opts}
	if opts.Clock != nil {
		s.ticker = opts.Clock.Ticker(time.Duration(float64(time.Second) / opts.FPS))
	}
	return s, nil
}

func (s *syntheticSource) NextFrame(ctx context.Context) (Frame, error) {
	if s.opts.Frames > 0 && s.seq >= uint64(s.opts.Frames) {
		return Frame{}, xerrors.Errorf("synthetic source exhausted after %d frames: %w", s.seq, ErrSourceUnavailable)
	}

	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	shade := float64((s.seq * 8) % 256)
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(shade, 128, 255-shade, 0), s.opts.Height, s.opts.Width, gocv.MatTypeCV8UC3)

	frame := Frame{
		Seq:        s.seq + 1,
		Timestamp:  float64(s.seq) / s.opts.FPS,
		Buffer:     NewPixelBuffer(img),
		Intrinsics: s.opts.Intrinsics,
	}
	s.seq++
	return frame, nil
}

func (s *syntheticSource) Format() VideoFormat {
	return VideoFormat{
		Width:  s.opts.Width,
		Height: s.opts.Height,
		FPS:    s.opts.FPS,
		Format: PixelFormatBGR,
	}
}

func (s *syntheticSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}

// Framer pulls frames from source on its own goroutine and hands them over
// through a single slot. A frame that finds the slot full is dropped, never
// queued. The returned channel is closed when the source ends or the context
// is cancelled.
func Framer(canxCtx context.Context, name string, source FrameSource, errorStream chan interface{}, statsStream chan interface{}) <-chan Frame {
	out := make(chan Frame, 1)

	go func() {
		defer close(out)

		var startTime = time.Now().Unix()
		var frames = 0
		var dropped = 0
		var rejected = 0
		var errs = 0
		var last float64
		var started bool
		sometimes := rate.Sometimes{Interval: 5 * time.Second}

		defer func() {
			uptime := time.Now().Unix() - startTime
			fps := 0
			if uptime > 0 {
				fps = int(float64(frames) / float64(uptime))
			}
			report(statsStream, model.FramerStats{
				Name:     name,
				Device:   name,
				FPS:      fps,
				Frames:   frames,
				Dropped:  dropped,
				Rejected: rejected,
				Errors:   errs,
				Uptime:   uptime,
			})
		}()

		for {
			frame, err := source.NextFrame(canxCtx)
			if canxCtx.Err() != nil {
				if err == nil {
					frame.Release()
				}
				lgr.Logger.Info("framer context cancelled", slog.String("source", name))
				return
			}

			if err != nil {
				if errors.Is(err, ErrSourceUnavailable) {
					lgr.Logger.Error("frame source unavailable", slog.String("source", name), lgr.Err(err))
					report(errorStream, model.GenError("framer",
						err,
						map[string]interface{}{"source": name, "frames": frames},
						"frame source %s ended", name))
					return
				}

				errs++
				sometimes.Do(func() {
					lgr.Logger.Warn("frame read failed", slog.String("source", name), slog.Int("errors", errs), lgr.Err(err))
				})
				continue
			}

			if started && frame.Timestamp <= last {
				rejected++
				frame.Release()
				continue
			}
			started = true
			last = frame.Timestamp
			frames++

			select {
			case out <- frame:
			default:
				dropped++
				frame.Release()
			}
		}
	}()

	return out
}

// report sends v without blocking the pipeline for long. Nil streams are ignored.
func report(stream chan interface{}, v interface{}) {
	if stream == nil {
		return
	}

	select {
	case stream <- v:
	case <-time.After(waitOnStream):
		lgr.Logger.Warn("stream busy, dropping report", slog.Any("report", v))
	}
}
