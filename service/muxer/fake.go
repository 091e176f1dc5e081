package muxer

import (
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

var ErrFakeFailure = xerrors.New("fake muxer failure")

// FakeService hands out FakeWriters. Set the exported fields before Open.
type FakeService struct {
	// Appends after which the writer fails fatally (0 never fails)
	FailAfter int
	NotReady  bool
	OpenErr   error

	// How long Finish takes to complete
	FinishDelay time.Duration

	mu      sync.Mutex
	writers []*FakeWriter
}

func NewFake() *FakeService {
	return &FakeService{}
}

func (svc *FakeService) Open(path string, settings Settings) (Writer, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.OpenErr != nil {
		return nil, svc.OpenErr
	}

	w := &FakeWriter{
		path:      path,
		settings:  settings,
		failAfter: svc.FailAfter,
		notReady:  svc.NotReady,
		delay:     svc.FinishDelay,
		finished:  make(chan struct{}),
	}
	svc.writers = append(svc.writers, w)
	return w, nil
}

func (svc *FakeService) Writers() []*FakeWriter {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]*FakeWriter{}, svc.writers...)
}

// FakeWriter records the timestamps it is given and writes a placeholder file
// when finished.
type FakeWriter struct {
	path      string
	settings  Settings
	failAfter int
	delay     time.Duration

	mu       sync.Mutex
	notReady bool
	pts      []float64
	sizes    [][2]int
	err      error
	finishes int
	finished chan struct{}
}

func (w *FakeWriter) Path() string {
	return w.path
}

func (w *FakeWriter) Settings() Settings {
	return w.settings
}

func (w *FakeWriter) SetReady(ready bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notReady = !ready
}

func (w *FakeWriter) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.notReady && w.err == nil && w.finishes == 0
}

func (w *FakeWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *FakeWriter) Append(img gocv.Mat, pts float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finishes > 0 {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if w.notReady {
		return ErrNotReady
	}

	w.pts = append(w.pts, pts)
	w.sizes = append(w.sizes, [2]int{img.Cols(), img.Rows()})
	if w.failAfter > 0 && len(w.pts) >= w.failAfter {
		w.err = ErrFakeFailure
	}
	return nil
}

func (w *FakeWriter) Finish(done func(error)) {
	w.mu.Lock()
	w.finishes++
	first := w.finishes == 1
	failed := w.err
	w.mu.Unlock()

	if !first {
		return
	}

	go func() {
		time.Sleep(w.delay)
		err := os.WriteFile(w.path, []byte("fake"), 0644)
		if failed != nil {
			err = failed
		}
		close(w.finished)
		if done != nil {
			done(err)
		}
	}()
}

// Finished is closed once the writer completed.
func (w *FakeWriter) Finished() <-chan struct{} {
	return w.finished
}

func (w *FakeWriter) PTS() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]float64{}, w.pts...)
}

// Sizes returns the width and height of every appended frame.
func (w *FakeWriter) Sizes() [][2]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][2]int{}, w.sizes...)
}

func (w *FakeWriter) Finishes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishes
}
