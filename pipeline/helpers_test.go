package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/inference"
	"github.com/khaledhikmat/vs-face/service/muxer"
	"github.com/khaledhikmat/vs-face/service/storage"
	"github.com/khaledhikmat/vs-face/service/webhook"
)

var gray = gocv.NewScalar(80, 80, 80, 0)

func solidFrame(seq uint64, ts float64, width, height int) Frame {
	return Frame{
		Seq:       seq,
		Timestamp: ts,
		Buffer:    NewPixelBuffer(gocv.NewMatWithSizeFromScalar(gray, height, width, gocv.MatTypeCV8UC3)),
	}
}

type testServices struct {
	ServicesFactory
	inference *inference.FakeService
	muxer     *muxer.FakeService
	storage   *storage.FakeService
	webhook   *webhook.FakeService
}

func newTestServices(t *testing.T, boxes ...inference.FakeBox) testServices {
	t.Helper()
	dir := t.TempDir()

	cfgSvc := config.NewHardCoded(func(s *config.Settings) {
		s.InputFolder = dir + "/settings"
		s.RecordingsFolder = dir + "/recordings"
		s.ExportFolder = dir + "/exports"
	})

	ts := testServices{
		inference: inference.NewFake(boxes...),
		muxer:     muxer.NewFake(),
		storage:   storage.NewFake(),
		webhook:   webhook.NewFake(),
	}
	ts.ServicesFactory = ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      data.NewFilesDB(cfgSvc),
		InferenceSvc: ts.inference,
		MuxerSvc:     ts.muxer,
		StorageSvc:   ts.storage,
		WebhookSvc:   ts.webhook,
	}
	return ts
}

// scriptedSource returns frames with the given timestamps, then ends.
type scriptedSource struct {
	timestamps []float64
	next       int
}

func (s *scriptedSource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.timestamps) {
		return Frame{}, ErrSourceUnavailable
	}

	ts := s.timestamps[s.next]
	s.next++
	return solidFrame(uint64(s.next), ts, 32, 24), nil
}

func (s *scriptedSource) Format() VideoFormat {
	return VideoFormat{Width: 32, Height: 24, FPS: 30}
}

func (s *scriptedSource) Close() error {
	return nil
}

// testPublisher keeps a copy of what was published and runs tasks inline.
type testPublisher struct {
	mu      sync.Mutex
	updates []DisplayUpdate
	inspect func(DisplayUpdate)
}

func (p *testPublisher) Publish(update DisplayUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inspect != nil {
		p.inspect(update)
	}
	update.Mat.Close()
	update.Mat = gocv.Mat{}
	p.updates = append(p.updates, update)
}

func (p *testPublisher) Dispatch(task func()) {
	task()
}

func (p *testPublisher) Updates() []DisplayUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DisplayUpdate{}, p.updates...)
}

// awaitIdle handles session messages until the session is idle.
func awaitIdle(t *testing.T, s *RecordingSession) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for s.State() != RecordingIdle {
		select {
		case msg := <-s.Completions():
			s.Handle(msg)
		case msg := <-s.Inbox():
			s.Handle(msg)
		case <-deadline:
			t.Fatalf("session stuck in %s", s.State())
		}
	}
}
