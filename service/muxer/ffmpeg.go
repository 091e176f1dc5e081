package muxer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/lgr"
)

// ffmpegService pipes raw BGR frames into an ffmpeg process.
type ffmpegService struct {
	ctx context.Context
	// How long a running ffmpeg may keep finalizing after ctx is cancelled
	killGrace time.Duration
}

const defaultKillGrace = 10 * time.Second

func NewFFmpeg(ctx context.Context) (IService, error) {
	// make sure ffmpeg is in the path before doing anything else
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, xerrors.Errorf("ffmpeg not found: %w", err)
	}
	return &ffmpegService{ctx: ctx, killGrace: defaultKillGrace}, nil
}

func encoderFor(codec string) string {
	switch codec {
	case "avc1", "h264", "H264":
		return "libx264"
	case "hvc1", "hevc":
		return "libx265"
	case "mp4v":
		return "mpeg4"
	default:
		return codec
	}
}

func (svc *ffmpegService) Open(path string, settings Settings) (Writer, error) {
	if settings.Width <= 0 || settings.Height <= 0 || settings.FPS <= 0 {
		return nil, xerrors.Errorf("invalid settings %dx%d@%.2f", settings.Width, settings.Height, settings.FPS)
	}
	if settings.Timescale <= 0 {
		settings.Timescale = DefaultTimescale
	}

	ctx, release := streamContext(svc.ctx, svc.killGrace)
	in, out := io.Pipe()
	stream := newStream(ctx, path, settings, in)

	result := make(chan error, 1)
	go func() {
		err := stream.Run()
		// unblock a writer stuck on a dead process
		in.CloseWithError(io.ErrClosedPipe)
		result <- err
	}()

	lgr.Logger.Info("ffmpeg muxer opened",
		slog.String("path", path),
		slog.String("encoder", encoderFor(settings.Codec)),
		slog.Int("timescale", settings.Timescale),
	)

	return newQueuedWriter(path, settings, &ffmpegBackend{
		pipe:    out,
		result:  result,
		release: release,
		width:   settings.Width,
		height:  settings.Height,
	}), nil
}

// newStream builds the ffmpeg command reading raw BGR frames from in. The
// context goes first: OverWriteOutput and WithInput store their options on it.
func newStream(ctx context.Context, path string, settings Settings, in io.Reader) *ffmpeg.Stream {
	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "bgr24",
		"s":       fmt.Sprintf("%dx%d", settings.Width, settings.Height),
		"r":       settings.FPS,
	}).Output(path, ffmpeg.KwArgs{
		"c:v":                   encoderFor(settings.Codec),
		"pix_fmt":               "yuv420p",
		"video_track_timescale": settings.Timescale,
	})
	stream.Context = ctx
	return stream.OverWriteOutput().WithInput(in)
}

// streamContext outlives parent by grace so a file being finalized during
// shutdown is not killed. release cancels it once the process is done.
func streamContext(parent context.Context, grace time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.AfterFunc(grace, cancel)
		context.AfterFunc(ctx, func() { timer.Stop() })
	})

	return ctx, func() {
		stop()
		cancel()
	}
}

type ffmpegBackend struct {
	pipe    *io.PipeWriter
	result  chan error
	release func()
	width   int
	height  int
}

func (b *ffmpegBackend) write(img gocv.Mat) error {
	frame, release, err := conform(img, b.width, b.height)
	if err != nil {
		return err
	}
	defer release()

	if _, err := b.pipe.Write(frame.ToBytes()); err != nil {
		return xerrors.Errorf("writing to ffmpeg: %w", err)
	}
	return nil
}

func (b *ffmpegBackend) close() error {
	defer b.release()
	err := b.pipe.Close()
	return multierr.Append(err, <-b.result)
}
