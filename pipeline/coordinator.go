package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// Coordinator runs one pass per frame on the frame-delivery goroutine:
// detect, render, record, publish, release. Results of frame N are only
// ever applied to frame N.
type Coordinator struct {
	svcs        ServicesFactory
	detector    *FaceDetector
	renderer    *OverlayRenderer
	session     *RecordingSession
	publisher   Publisher
	errorStream chan interface{}
	statsStream chan interface{}
	tracer      trace.Tracer
	sometimes   rate.Sometimes

	readSometimes   rate.Sometimes
	recordAnnotated bool
	statsPeriod     time.Duration
	shutdownTimeout time.Duration

	last      float64
	started   bool
	startTime time.Time
	procTime  time.Duration
	stats     model.CoordinatorStats
}

func NewCoordinator(svcs ServicesFactory,
	detector *FaceDetector,
	renderer *OverlayRenderer,
	session *RecordingSession,
	publisher Publisher,
	errorStream chan interface{},
	statsStream chan interface{}) *Coordinator {
	return &Coordinator{
		svcs:            svcs,
		detector:        detector,
		renderer:        renderer,
		session:         session,
		publisher:       publisher,
		errorStream:     errorStream,
		statsStream:     statsStream,
		tracer:          otel.Tracer("pipeline"),
		sometimes:       rate.Sometimes{First: 1, Interval: 5 * time.Second},
		readSometimes:   rate.Sometimes{First: 1, Interval: 5 * time.Second},
		recordAnnotated: svcs.CfgSvc.GetRecorderParameters().RecordAnnotated,
		statsPeriod:     time.Duration(svcs.CfgSvc.GetStatsPeriodicTimeout()) * time.Second,
		shutdownTimeout: time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second,
		stats:           model.CoordinatorStats{Name: "coordinator"},
	}
}

// OnRecordingComplete is the session's completion callback. Finished
// recordings are shared from the display context, discarded ones are only
// reported.
func (c *Coordinator) OnRecordingComplete(rec model.Recording) {
	if rec.Discarded || c.publisher == nil {
		report(c.statsStream, rec)
		return
	}

	c.publisher.Dispatch(func() {
		Share(c.svcs, rec, c.errorStream)
	})
}

// Run processes frames until the channel closes or ctx is cancelled. An
// active recording is stopped and finalized before Run returns.
func (c *Coordinator) Run(ctx context.Context, frames <-chan Frame) error {
	c.startTime = time.Now()
	ticker := time.NewTicker(c.statsPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lgr.Logger.Info("coordinator context cancelled")
			goto resume

		case msg := <-c.session.Inbox():
			c.session.Handle(msg)

		case msg := <-c.session.Completions():
			c.session.Handle(msg)

		case frame, ok := <-frames:
			if !ok {
				lgr.Logger.Info("coordinator frame source ended")
				goto resume
			}
			// Intents apply at frame boundaries
			c.session.Drain()
			c.process(ctx, frame)

		case <-ticker.C:
			c.reportStats()
		}
	}

resume:
	c.session.Shutdown(c.shutdownTimeout)
	c.reportStats()

	// Release whatever the framer still hands over until it closes the channel
	go func() {
		for f := range frames {
			f.Release()
		}
	}()
	return nil
}

func (c *Coordinator) process(ctx context.Context, frame Frame) {
	defer frame.Release()

	ctx, span := c.tracer.Start(ctx, "pipeline.pass", trace.WithAttributes(
		attribute.Int64("frame.seq", int64(frame.Seq)),
		attribute.Float64("frame.timestamp", frame.Timestamp),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		c.procTime += time.Since(start)
	}()

	if c.started && frame.Timestamp <= c.last {
		c.stats.Rejected++
		span.SetAttributes(attribute.Bool("frame.rejected", true))
		return
	}
	c.started = true
	c.last = frame.Timestamp
	c.stats.Passes++

	detectCtx, detectSpan := c.tracer.Start(ctx, "pipeline.detect")
	results := c.detector.Detect(detectCtx, frame)
	detectSpan.SetAttributes(attribute.Int("faces", len(results.Faces)))
	detectSpan.End()
	c.stats.Faces += len(results.Faces)

	renderCtx, renderSpan := c.tracer.Start(ctx, "pipeline.render")
	annotated, err := c.renderer.Render(renderCtx, frame, results)
	if err != nil {
		c.stats.OverlayErrors++
		renderSpan.RecordError(err)
		renderSpan.SetStatus(codes.Error, "overlay failed")
		c.sometimes.Do(func() {
			lgr.Logger.WarnContext(renderCtx, "overlay failed", slog.Uint64("seq", frame.Seq), lgr.Err(err))
		})
		annotated = nil
	}
	if annotated != nil {
		c.stats.SkippedOverlays += annotated.Skipped
		renderSpan.SetAttributes(attribute.Int("skipped", annotated.Skipped))
	}
	renderSpan.End()

	if c.recordAnnotated && annotated != nil {
		c.session.Consume(frame.Timestamp, annotated.Mat)
	} else {
		err := frame.Buffer.Read(func(mat gocv.Mat) error {
			c.session.Consume(frame.Timestamp, mat)
			return nil
		})
		if err != nil {
			c.stats.FrameReadErrors++
			span.RecordError(err)
			c.readSometimes.Do(func() {
				lgr.Logger.WarnContext(ctx, "frame not recorded",
					slog.Uint64("seq", frame.Seq),
					slog.Int("readErrors", c.stats.FrameReadErrors),
					lgr.Err(err),
				)
			})
		}
	}

	c.publish(frame, results, annotated)
}

// publish hands a mat the display owns to the publisher.
func (c *Coordinator) publish(frame Frame, results *DetectionResultSet, annotated *AnnotatedFrame) {
	if c.publisher == nil {
		annotated.Close()
		return
	}

	var mat gocv.Mat
	if annotated != nil {
		mat = annotated.Mat
	} else {
		copied, err := frame.Buffer.Copy()
		if err != nil {
			return
		}
		mat = copied
	}

	c.publisher.Publish(DisplayUpdate{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Mat:       mat,
		Faces:     len(results.Faces),
		Recording: c.session.State(),
	})
}

func (c *Coordinator) Stats() model.CoordinatorStats {
	stats := c.stats
	stats.DetectionErrors = c.detector.Errors()
	stats.Uptime = int64(time.Since(c.startTime).Seconds())
	if stats.Passes > 0 {
		stats.AvgProcTime = c.procTime.Seconds() / float64(stats.Passes)
	}
	return stats
}

func (c *Coordinator) reportStats() {
	report(c.statsStream, c.Stats())
	report(c.statsStream, c.session.Stats())
}
