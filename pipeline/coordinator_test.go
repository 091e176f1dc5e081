package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/inference"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

type coordinatorHarness struct {
	svcs        testServices
	publisher   *testPublisher
	session     *RecordingSession
	coordinator *Coordinator
	statsStream chan interface{}
}

func newCoordinatorHarness(t *testing.T, boxes ...inference.FakeBox) *coordinatorHarness {
	t.Helper()
	h := &coordinatorHarness{
		svcs:        newTestServices(t, boxes...),
		publisher:   &testPublisher{},
		statsStream: make(chan interface{}, 32),
	}

	renderer := NewOverlayRenderer(h.svcs.CfgSvc.GetOverlayParameters())
	t.Cleanup(func() { renderer.Close() })

	detector := NewFaceDetector(h.svcs.InferenceSvc, DetectRectangles, nil, nil)
	h.session = NewRecordingSession(h.svcs.CfgSvc, h.svcs.MuxerSvc, func(rec model.Recording) {
		h.coordinator.OnRecordingComplete(rec)
	})
	h.session.SetFormat(VideoFormat{Width: 640, Height: 480, FPS: 30, Format: PixelFormatBGR})
	h.coordinator = NewCoordinator(h.svcs.ServicesFactory, detector, renderer, h.session, h.publisher, nil, h.statsStream)
	return h
}

func feedFrames(timestamps ...float64) <-chan Frame {
	frames := make(chan Frame, len(timestamps))
	for i, ts := range timestamps {
		frames <- solidFrame(uint64(i+1), ts, 640, 480)
	}
	close(frames)
	return frames
}

func TestCoordinatorEndToEnd(t *testing.T) {
	h := newCoordinatorHarness(t, inference.FakeBox{X: 0.4, Y: 0.4, W: 0.2, H: 0.2})

	var boxPixels [][]uint8
	h.publisher.inspect = func(update DisplayUpdate) {
		px := update.Mat.GetVecbAt(240, 256)
		boxPixels = append(boxPixels, []uint8{px[0], px[1], px[2]})
	}

	h.session.Start()
	require.NoError(t, h.coordinator.Run(context.Background(), feedFrames(0, 0.033, 0.066)))

	updates := h.publisher.Updates()
	require.Len(t, updates, 3)
	for i, u := range updates {
		assert.Equal(t, uint64(i+1), u.Seq)
		assert.Equal(t, 1, u.Faces)
		assert.Equal(t, RecordingActive, u.Recording)
		assert.Equal(t, []uint8{0, 255, 0}, boxPixels[i])
	}

	writers := h.svcs.muxer.Writers()
	require.Len(t, writers, 1)
	pts := writers[0].PTS()
	require.Len(t, pts, 3)
	assert.InDelta(t, 0, pts[0], 1e-9)
	assert.InDelta(t, 0.033, pts[1], 1e-9)
	assert.InDelta(t, 0.066, pts[2], 1e-9)
	assert.Equal(t, [2]int{640, 480}, writers[0].Sizes()[0])

	assert.Equal(t, RecordingIdle, h.session.State())

	recs, err := h.svcs.DataSvc.RetrieveRecordings()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, writers[0].Path(), recs[0].Path)
	assert.Equal(t, "fake://"+writers[0].Path(), recs[0].ShareURL)
	assert.Equal(t, 3, recs[0].Frames)

	assert.Equal(t, []string{writers[0].Path()}, h.svcs.storage.Stored())
	payloads := h.svcs.webhook.Payloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, recs[0].ID, payloads[0]["id"])

	stats := h.coordinator.Stats()
	assert.Equal(t, 3, stats.Passes)
	assert.Equal(t, 3, stats.Faces)
	assert.Equal(t, 0, stats.Rejected)
}

func TestCoordinatorRejectsNonIncreasingFrames(t *testing.T) {
	h := newCoordinatorHarness(t)

	require.NoError(t, h.coordinator.Run(context.Background(), feedFrames(0, 0.1, 0.1, 0.05, 0.2)))

	updates := h.publisher.Updates()
	require.Len(t, updates, 3)
	assert.Equal(t, []uint64{1, 2, 5}, []uint64{updates[0].Seq, updates[1].Seq, updates[2].Seq})

	stats := h.coordinator.Stats()
	assert.Equal(t, 3, stats.Passes)
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, 0, stats.Faces)
	assert.Empty(t, h.svcs.muxer.Writers())
}

func TestCoordinatorKeepsGoingWhenDetectionFails(t *testing.T) {
	h := newCoordinatorHarness(t, inference.FakeBox{X: 0.4, Y: 0.4, W: 0.2, H: 0.2})
	h.svcs.inference.Fail(xerrors.New("backend down"))

	require.NoError(t, h.coordinator.Run(context.Background(), feedFrames(0, 0.1)))

	updates := h.publisher.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, 0, updates[0].Faces)
	assert.Equal(t, 2, h.coordinator.Stats().DetectionErrors)
}

func TestCoordinatorReportsDiscardedRecording(t *testing.T) {
	h := newCoordinatorHarness(t)
	h.svcs.muxer.NotReady = true

	h.session.Start()
	require.NoError(t, h.coordinator.Run(context.Background(), feedFrames(0, 0.1)))

	var discarded []model.Recording
	for len(h.statsStream) > 0 {
		if rec, ok := (<-h.statsStream).(model.Recording); ok {
			discarded = append(discarded, rec)
		}
	}
	require.Len(t, discarded, 1)
	assert.True(t, discarded[0].Discarded)

	assert.Empty(t, h.svcs.storage.Stored())
	assert.Empty(t, h.svcs.webhook.Payloads())
}

func TestCoordinatorStopsOnCancel(t *testing.T) {
	h := newCoordinatorHarness(t)
	frames := make(chan Frame, 1)

	ctx, cancel := context.WithCancel(context.Background())
	h.session.Start()
	frames <- solidFrame(1, 0, 640, 480)

	done := make(chan error, 1)
	go func() {
		done <- h.coordinator.Run(ctx, frames)
	}()

	require.Eventually(t, func() bool {
		return len(h.publisher.Updates()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	close(frames)

	assert.Equal(t, RecordingIdle, h.session.State())
	assert.Len(t, h.svcs.webhook.Payloads(), 1)
}

func TestCoordinatorTracesPasses(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	previousLogger := lgr.Logger
	t.Cleanup(func() { lgr.Logger = previousLogger })
	logPath := filepath.Join(t.TempDir(), "vs-face.log")
	closer := lgr.Init("info", logPath)

	h := newCoordinatorHarness(t, inference.FakeBox{X: 0.4, Y: 0.4, W: 0.2, H: 0.2})
	h.svcs.inference.Fail(xerrors.New("backend down"))
	require.NoError(t, h.coordinator.Run(context.Background(), feedFrames(0, 0.1)))
	require.NoError(t, closer.Close())

	var passes, detects int
	var traceID string
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "pipeline.pass":
			passes++
			if traceID == "" {
				traceID = span.SpanContext().TraceID().String()
			}
		case "pipeline.detect":
			detects++
		}
	}
	assert.Equal(t, 2, passes)
	assert.Equal(t, 2, detects)

	// The first pass logged the detection failure inside its span
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"face detection failed"`)
	assert.Contains(t, string(data), `"trace_id":"`+traceID+`"`)
}

func TestCoordinatorCountsUnreadableFrames(t *testing.T) {
	h := newCoordinatorHarness(t)
	h.session.Start()

	frames := make(chan Frame, 1)
	frame := solidFrame(1, 0, 640, 480)
	frame.Buffer.Release()
	frames <- frame
	close(frames)

	require.NoError(t, h.coordinator.Run(context.Background(), frames))

	stats := h.coordinator.Stats()
	assert.Equal(t, 1, stats.Passes)
	assert.Equal(t, 1, stats.OverlayErrors)
	assert.Equal(t, 1, stats.FrameReadErrors)
	assert.Empty(t, h.publisher.Updates())
}
