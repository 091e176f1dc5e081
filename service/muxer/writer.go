package muxer

import (
	"log/slog"
	"math"
	"sync"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/lgr"
)

type backend interface {
	write(img gocv.Mat) error
	close() error
}

type pending struct {
	img gocv.Mat
	pts float64
}

// queuedWriter encodes on its own goroutine. Frames are placed on a constant
// frame rate grid: slot = round(pts * fps). Missing slots repeat the previous
// frame and frames landing on a written slot are dropped.
type queuedWriter struct {
	path     string
	settings Settings
	be       backend
	queue    chan pending

	mu       sync.Mutex
	err      error
	finished bool
	done     func(error)

	next int64
	last gocv.Mat
	// Frames written to the backend, repeats included
	written int
}

func newQueuedWriter(path string, settings Settings, be backend) *queuedWriter {
	if settings.QueueSize <= 0 {
		settings.QueueSize = 1
	}

	w := &queuedWriter{
		path:     path,
		settings: settings,
		be:       be,
		queue:    make(chan pending, settings.QueueSize),
		last:     gocv.NewMat(),
	}
	go w.run()
	return w
}

func (w *queuedWriter) Path() string {
	return w.path
}

func (w *queuedWriter) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.finished && w.err == nil && len(w.queue) < cap(w.queue)
}

func (w *queuedWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *queuedWriter) Append(img gocv.Mat, pts float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if img.Empty() {
		return xerrors.New("empty frame")
	}

	p := pending{img: img.Clone(), pts: pts}
	select {
	case w.queue <- p:
		return nil
	default:
		p.img.Close() // Crucial to close the image to avoid memory leaks
		return ErrNotReady
	}
}

func (w *queuedWriter) Finish(done func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return
	}
	w.finished = true
	w.done = done
	close(w.queue)
}

func (w *queuedWriter) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *queuedWriter) run() {
	for p := range w.queue {
		if w.Err() != nil {
			p.img.Close() // Crucial to close the image to avoid memory leaks
			continue
		}

		if err := w.place(p); err != nil {
			lgr.Logger.Error("muxer write failed",
				slog.String("path", w.path),
				lgr.Err(err),
			)
			w.fail(err)
		}
	}

	err := multierr.Combine(w.Err(), w.be.close(), w.last.Close())

	lgr.Logger.Info("muxer finished",
		slog.String("path", w.path),
		slog.Int("written", w.written),
		slog.Bool("failed", err != nil),
	)

	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		done(err)
	}
}

// place takes ownership of p.img.
func (w *queuedWriter) place(p pending) error {
	slot := int64(math.Round(p.pts * w.settings.FPS))
	if slot < w.next {
		p.img.Close() // Crucial to close the image to avoid memory leaks
		return nil
	}

	for !w.last.Empty() && w.next < slot {
		if err := w.be.write(w.last); err != nil {
			p.img.Close()
			return err
		}
		w.written++
		w.next++
	}

	if err := w.be.write(p.img); err != nil {
		p.img.Close()
		return err
	}
	w.written++
	w.next = slot + 1

	w.last.Close()
	w.last = p.img
	return nil
}
