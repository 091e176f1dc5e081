package muxer

import (
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

var (
	// ErrNotReady means the writer cannot take a frame right now. The frame
	// should be dropped, it is not a failure.
	ErrNotReady = xerrors.New("muxer writer not ready")
	ErrClosed   = xerrors.New("muxer writer finished")
)

// DefaultTimescale is the number of time units per second in the output track.
const DefaultTimescale = 600

type Settings struct {
	Codec     string  `json:"codec"`
	Container string  `json:"container"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FPS       float64 `json:"fps"`
	Timescale int     `json:"timescale"`
	QueueSize int     `json:"queueSize"`
}

// Writer encodes frames into one output file.
type Writer interface {
	// Ready reports whether Append would accept a frame.
	Ready() bool
	// Append queues img at pts seconds relative to the start of the file. img
	// is copied, the caller keeps ownership.
	Append(img gocv.Mat, pts float64) error
	// Err returns the first fatal error, if any.
	Err() error
	// Finish marks the input finished. done is called once, from another
	// goroutine, after the file is flushed and closed.
	Finish(done func(error))
	Path() string
}

type IService interface {
	Open(path string, settings Settings) (Writer, error)
}
