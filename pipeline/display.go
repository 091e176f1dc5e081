package pipeline

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/khaledhikmat/vs-face/service/lgr"
)

const (
	taskQueueSize = 16
	keyPollPeriod = 10 * time.Millisecond
)

// Presenter shows display updates. It is created and used on the display
// goroutine only.
type Presenter interface {
	Show(update DisplayUpdate) error
	Alert(message string)
	// PollKey returns the pressed key or -1.
	PollKey() int
	Close() error
}

// Display is the display context: it shows the latest update and runs UI
// tasks. Publish and Dispatch never block the caller.
type Display struct {
	newPresenter func() (Presenter, error)
	updates      chan DisplayUpdate
	tasks        chan func()
	bindings     map[int]func()
	presenter    Presenter

	shown   atomic.Int64
	dropped atomic.Int64
}

func NewDisplay(newPresenter func() (Presenter, error)) *Display {
	return &Display{
		newPresenter: newPresenter,
		updates:      make(chan DisplayUpdate, 1),
		tasks:        make(chan func(), taskQueueSize),
		bindings:     map[int]func(){},
	}
}

// BindTrigger runs fn on the display goroutine when key is pressed. Bind
// before Run.
func (d *Display) BindTrigger(key rune, fn func()) {
	d.bindings[int(key)] = fn
}

// Publish replaces any update still waiting to be shown.
func (d *Display) Publish(update DisplayUpdate) {
	for i := 0; i < 2; i++ {
		select {
		case d.updates <- update:
			return
		default:
		}

		select {
		case stale := <-d.updates:
			stale.Mat.Close() // Crucial to close the image to avoid memory leaks
			d.dropped.Add(1)
		default:
		}
	}
	update.Mat.Close()
}

func (d *Display) Dispatch(task func()) {
	select {
	case d.tasks <- task:
	default:
		lgr.Logger.Warn("display task queue full, dropping task")
	}
}

// Alert shows message to the user.
func (d *Display) Alert(message string) {
	d.Dispatch(func() {
		d.presenter.Alert(message)
	})
}

// Shown and Dropped count updates presented and replaced before presentation.
func (d *Display) Shown() int64 {
	return d.shown.Load()
}

func (d *Display) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Display) Run(ctx context.Context) error {
	// Window toolkits want every call on the thread that created the window
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	presenter, err := d.newPresenter()
	if err != nil {
		return err
	}
	d.presenter = presenter
	defer presenter.Close()

	poll := time.NewTicker(keyPollPeriod)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			lgr.Logger.Info("display context cancelled",
				slog.Int64("shown", d.shown.Load()),
				slog.Int64("dropped", d.dropped.Load()),
			)
			return nil

		case update := <-d.updates:
			if err := presenter.Show(update); err != nil {
				lgr.Logger.Warn("display update failed", slog.Uint64("seq", update.Seq), lgr.Err(err))
			}
			update.Mat.Close() // Crucial to close the image to avoid memory leaks
			d.shown.Add(1)

		case task := <-d.tasks:
			task()

		case <-poll.C:
			if fn, ok := d.bindings[presenter.PollKey()]; ok {
				fn()
			}
		}
	}
}

// drain runs pending tasks (shares of finished recordings) and frees updates.
func (d *Display) drain() {
	for {
		select {
		case task := <-d.tasks:
			task()
		case update := <-d.updates:
			update.Mat.Close()
		default:
			return
		}
	}
}

type windowPresenter struct {
	window *gocv.Window
	banner string
}

func NewWindowPresenter(name string) func() (Presenter, error) {
	return func() (Presenter, error) {
		return &windowPresenter{
			window: gocv.NewWindow(name),
		}, nil
	}
}

func (p *windowPresenter) Show(update DisplayUpdate) error {
	if update.Recording == RecordingActive {
		gocv.Circle(&update.Mat, image.Pt(24, 24), 10, color.RGBA{R: 255, A: 0}, -1)
		gocv.PutText(&update.Mat, "REC", image.Pt(42, 32), gocv.FontHersheySimplex, 0.8, color.RGBA{R: 255, A: 0}, 2)
	}
	if p.banner != "" {
		gocv.PutText(&update.Mat, p.banner, image.Pt(10, update.Mat.Rows()-16), gocv.FontHersheySimplex, 0.5, color.RGBA{R: 255, G: 255, B: 255, A: 0}, 1)
	}

	p.window.IMShow(update.Mat)
	return nil
}

func (p *windowPresenter) Alert(message string) {
	lgr.Logger.Error("alert", slog.String("message", message))
	p.banner = message

	// Nothing may be streaming when setup fails, show the message on its own
	canvas := gocv.NewMatWithSize(120, 900, gocv.MatTypeCV8UC3)
	defer canvas.Close()
	gocv.PutText(&canvas, message, image.Pt(10, 64), gocv.FontHersheySimplex, 0.5, color.RGBA{R: 255, G: 255, B: 255, A: 0}, 1)
	p.window.IMShow(canvas)
	p.window.WaitKey(1)
}

func (p *windowPresenter) PollKey() int {
	return p.window.WaitKey(1)
}

func (p *windowPresenter) Close() error {
	return p.window.Close()
}

// logPresenter is the headless presenter.
type logPresenter struct {
	every int
	count int
}

func NewLogPresenter(every int) func() (Presenter, error) {
	return func() (Presenter, error) {
		if every <= 0 {
			every = 1
		}
		return &logPresenter{every: every}, nil
	}
}

func (p *logPresenter) Show(update DisplayUpdate) error {
	p.count++
	if p.count%p.every != 0 {
		return nil
	}

	lgr.Logger.Info("frame",
		slog.Uint64("seq", update.Seq),
		slog.Float64("timestamp", update.Timestamp),
		slog.Int("faces", update.Faces),
		slog.String("recording", update.Recording.String()),
	)
	return nil
}

func (p *logPresenter) Alert(message string) {
	lgr.Logger.Error("alert", slog.String("message", message))
}

func (p *logPresenter) PollKey() int {
	return -1
}

func (p *logPresenter) Close() error {
	return nil
}

// Serve runs the display and work together. The display is stopped only after
// work returns, so tasks work dispatches while finishing (the share of the
// last recording) still run. A display failure cancels work.
func Serve(ctx context.Context, display *Display, work func(ctx context.Context) error) error {
	displayCtx, displayCanxFn := context.WithCancel(context.WithoutCancel(ctx))
	defer displayCanxFn()

	workCtx, workCanxFn := context.WithCancel(ctx)
	defer workCanxFn()

	var g errgroup.Group

	g.Go(func() error {
		defer workCanxFn()
		return display.Run(displayCtx)
	})

	g.Go(func() error {
		defer displayCanxFn()
		return work(workCtx)
	})

	return g.Wait()
}
