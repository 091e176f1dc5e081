package pipeline

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/lgr"
	"github.com/khaledhikmat/vs-face/service/muxer"
)

type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingStarting
	RecordingActive
	RecordingFinishing
)

func (s RecordingState) String() string {
	switch s {
	case RecordingIdle:
		return "idle"
	case RecordingStarting:
		return "starting"
	case RecordingActive:
		return "active"
	case RecordingFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

type sessionEvent int

const (
	eventStart sessionEvent = iota
	eventStop
	eventToggle
	eventOpened
	eventOpenFailed
	eventFatal
	eventCompleted
)

func (e sessionEvent) String() string {
	return [...]string{"start", "stop", "toggle", "opened", "openFailed", "fatal", "completed"}[e]
}

// SessionMessage is an intent or a muxer completion, delivered to the
// session's owner through its inbox or completions channel.
type SessionMessage struct {
	event sessionEvent
	id    string
	err   error
}

const inboxSize = 16

// outputSink exists from Starting until the completion arrives.
type outputSink struct {
	id        string
	path      string
	writer    muxer.Writer
	settings  muxer.Settings
	startedAt time.Time
	baseSet   bool
	base      float64
	last      float64
	frames    int
	dropped   int
	discard   bool
	reason    string
}

// RecordingSession records frames into one file at a time. All state belongs
// to the goroutine that calls Consume, Handle and Drain. Toggle, Start and
// Stop may be called from anywhere.
type RecordingSession struct {
	cfgSvc     config.IService
	muxerSvc   muxer.IService
	onComplete func(model.Recording)
	inbox      chan SessionMessage

	// One output finishes at a time, so its completion always fits
	completions chan SessionMessage

	state  RecordingState
	format VideoFormat
	sink   *outputSink
	stats  model.RecorderStats
}

func NewRecordingSession(cfgSvc config.IService, muxerSvc muxer.IService, onComplete func(model.Recording)) *RecordingSession {
	return &RecordingSession{
		cfgSvc:      cfgSvc,
		muxerSvc:    muxerSvc,
		onComplete:  onComplete,
		inbox:       make(chan SessionMessage, inboxSize),
		completions: make(chan SessionMessage, 1),
		stats:       model.RecorderStats{Name: "recordingSession"},
	}
}

func (s *RecordingSession) Toggle() {
	s.post(SessionMessage{event: eventToggle})
}

func (s *RecordingSession) Start() {
	s.post(SessionMessage{event: eventStart})
}

func (s *RecordingSession) Stop() {
	s.post(SessionMessage{event: eventStop})
}

func (s *RecordingSession) post(msg SessionMessage) {
	select {
	case s.inbox <- msg:
	default:
		lgr.Logger.Warn("recording inbox full, dropping intent", slog.String("event", msg.event.String()))
	}
}

func (s *RecordingSession) Inbox() <-chan SessionMessage {
	return s.inbox
}

// Completions delivers muxer completions. The muxer never blocks on it.
func (s *RecordingSession) Completions() <-chan SessionMessage {
	return s.completions
}

func (s *RecordingSession) State() RecordingState {
	return s.state
}

// SetFormat sets the live video format the output is negotiated from.
func (s *RecordingSession) SetFormat(format VideoFormat) {
	s.format = format
}

// Drain handles every pending message without blocking.
func (s *RecordingSession) Drain() {
	for {
		select {
		case msg := <-s.completions:
			s.Handle(msg)
		case msg := <-s.inbox:
			s.Handle(msg)
		default:
			return
		}
	}
}

func (s *RecordingSession) Handle(msg SessionMessage) {
	if msg.event == eventCompleted && (s.sink == nil || s.sink.id != msg.id) {
		lgr.Logger.Warn("stale recording completion ignored", slog.String("id", msg.id))
		return
	}
	s.transition(msg.event, msg.err)
}

// transition is the only place the state changes.
func (s *RecordingSession) transition(ev sessionEvent, err error) {
	from := s.state

	switch s.state {
	case RecordingIdle:
		switch ev {
		case eventStart, eventToggle:
			s.state = RecordingStarting
			s.logTransition(from, ev)
			if openErr := s.open(); openErr != nil {
				s.transition(eventOpenFailed, openErr)
			} else {
				s.transition(eventOpened, nil)
			}
			return
		}

	case RecordingStarting:
		switch ev {
		case eventOpened:
			s.state = RecordingActive
		case eventOpenFailed:
			lgr.Logger.Error("recording could not start", lgr.Err(err))
			s.sink = nil
			s.state = RecordingIdle
		}

	case RecordingActive:
		switch ev {
		case eventStop, eventToggle:
			s.state = RecordingFinishing
			s.finish(false, "")
		case eventFatal:
			lgr.Logger.Error("recording failed, discarding output", slog.String("path", s.sink.path), lgr.Err(err))
			s.state = RecordingFinishing
			s.finish(true, err.Error())
		}

	case RecordingFinishing:
		if ev == eventCompleted {
			s.complete(err)
			s.state = RecordingIdle
		}
	}

	if s.state != from {
		s.logTransition(from, ev)
	}
}

func (s *RecordingSession) logTransition(from RecordingState, ev sessionEvent) {
	lgr.Logger.Info("recording state changed",
		slog.String("from", from.String()),
		slog.String("to", s.state.String()),
		slog.String("event", ev.String()),
	)
}

func (s *RecordingSession) open() error {
	if !s.format.Known() {
		return xerrors.New("live video format unknown")
	}

	params := s.cfgSvc.GetRecorderParameters()
	folder := s.cfgSvc.GetRecordingsFolder()
	if err := os.MkdirAll(folder, 0755); err != nil {
		return xerrors.Errorf("creating recordings folder: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(folder, id+"."+params.Container)
	settings := muxer.Settings{
		Codec:     params.Codec,
		Container: params.Container,
		Width:     s.format.Width,
		Height:    s.format.Height,
		FPS:       s.format.FPS,
		Timescale: muxer.DefaultTimescale,
		QueueSize: params.QueueSize,
	}

	writer, err := s.muxerSvc.Open(path, settings)
	if err != nil {
		return xerrors.Errorf("opening muxer %s: %w", path, err)
	}

	s.sink = &outputSink{
		id:        id,
		path:      path,
		writer:    writer,
		settings:  settings,
		startedAt: time.Now(),
	}
	return nil
}

// Consume offers a frame to the session. img is copied when appended.
func (s *RecordingSession) Consume(ts float64, img gocv.Mat) {
	if s.state != RecordingActive {
		s.stats.Ignored++
		return
	}

	sink := s.sink
	if err := sink.writer.Err(); err != nil {
		s.transition(eventFatal, err)
		return
	}

	if !sink.baseSet {
		sink.base = ts
		sink.baseSet = true
	}

	rel := ts - sink.base
	if rel < 0 || !sink.writer.Ready() {
		sink.dropped++
		s.stats.Dropped++
		return
	}

	err := sink.writer.Append(img, rel)
	switch {
	case err == nil:
		sink.frames++
		sink.last = rel
		s.stats.Appended++
	case errors.Is(err, muxer.ErrNotReady):
		sink.dropped++
		s.stats.Dropped++
	default:
		s.transition(eventFatal, err)
	}
}

func (s *RecordingSession) finish(discard bool, reason string) {
	sink := s.sink
	sink.discard = discard
	sink.reason = reason

	id := sink.id
	sink.writer.Finish(func(err error) {
		s.completions <- SessionMessage{event: eventCompleted, id: id, err: err}
	})
}

func (s *RecordingSession) complete(err error) {
	sink := s.sink
	s.sink = nil

	if err != nil && !sink.discard {
		sink.discard = true
		sink.reason = err.Error()
	}
	if !sink.discard && sink.frames == 0 {
		sink.discard = true
		sink.reason = "no frames recorded"
	}

	if sink.discard {
		if rmErr := os.Remove(sink.path); rmErr != nil && !os.IsNotExist(rmErr) {
			lgr.Logger.Error("error deleting discarded recording", slog.String("path", sink.path), lgr.Err(rmErr))
		}
		s.stats.Discarded++
	} else {
		s.stats.Recordings++
	}

	rec := model.Recording{
		ID:        sink.id,
		Path:      sink.path,
		Container: sink.settings.Container,
		Codec:     sink.settings.Codec,
		Width:     sink.settings.Width,
		Height:    sink.settings.Height,
		FPS:       sink.settings.FPS,
		Frames:    sink.frames,
		Dropped:   sink.dropped,
		Duration:  sink.last,
		StartedAt: sink.startedAt.Unix(),
		EndedAt:   time.Now().Unix(),
		Discarded: sink.discard,
		Reason:    sink.reason,
	}

	lgr.Logger.Info("recording completed",
		slog.String("id", rec.ID),
		slog.String("path", rec.Path),
		slog.Int("frames", rec.Frames),
		slog.Int("dropped", rec.Dropped),
		slog.Bool("discarded", rec.Discarded),
	)

	if s.onComplete != nil {
		s.onComplete(rec)
	}
}

// Shutdown stops an active recording and waits up to timeout for the file to
// be finalized.
func (s *RecordingSession) Shutdown(timeout time.Duration) {
	s.Drain()
	s.transition(eventStop, nil)
	if s.state == RecordingIdle {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for s.state != RecordingIdle {
		select {
		case msg := <-s.completions:
			s.Handle(msg)
		case msg := <-s.inbox:
			s.Handle(msg)
		case <-timer.C:
			lgr.Logger.Warn("recording did not finish in time",
				slog.String("state", s.state.String()),
				slog.Duration("timeout", timeout),
			)
			return
		}
	}
}

func (s *RecordingSession) Stats() model.RecorderStats {
	stats := s.stats
	stats.State = s.state.String()
	return stats
}
