package pipeline

import (
	"sync"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

var ErrBufferReleased = xerrors.New("pixel buffer released")

type PixelFormat int

const (
	PixelFormatBGR PixelFormat = iota
	PixelFormatBGRA
	PixelFormatGray
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatBGR:
		return "bgr"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatGray:
		return "gray"
	default:
		return "unknown"
	}
}

func formatOf(mat gocv.Mat) PixelFormat {
	switch mat.Channels() {
	case 1:
		return PixelFormatGray
	case 4:
		return PixelFormatBGRA
	default:
		return PixelFormatBGR
	}
}

// PixelBuffer owns the pixels of one frame. Pixels are only reachable inside
// Read, under the buffer's read lock, so the frame stays immutable while
// detection and overlay look at it.
type PixelBuffer struct {
	mu       sync.RWMutex
	mat      gocv.Mat
	width    int
	height   int
	stride   int
	format   PixelFormat
	released bool
}

// NewPixelBuffer takes ownership of mat.
func NewPixelBuffer(mat gocv.Mat) *PixelBuffer {
	return &PixelBuffer{
		mat:    mat,
		width:  mat.Cols(),
		height: mat.Rows(),
		stride: mat.Step(),
		format: formatOf(mat),
	}
}

func (b *PixelBuffer) Width() int {
	return b.width
}

func (b *PixelBuffer) Height() int {
	return b.height
}

// Stride is the number of bytes per row.
func (b *PixelBuffer) Stride() int {
	return b.stride
}

func (b *PixelBuffer) Format() PixelFormat {
	return b.format
}

// Read runs fn with the pixels. fn must not keep or modify mat.
func (b *PixelBuffer) Read(fn func(mat gocv.Mat) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.released {
		return ErrBufferReleased
	}
	return fn(b.mat)
}

// Copy returns a deep copy that the caller owns.
func (b *PixelBuffer) Copy() (gocv.Mat, error) {
	var out gocv.Mat
	err := b.Read(func(mat gocv.Mat) error {
		out = mat.Clone()
		return nil
	})
	return out, err
}

// Release frees the pixels. It waits for readers and is idempotent.
func (b *PixelBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return
	}
	b.released = true
	b.mat.Close() // Crucial to close the image to avoid memory leaks
}
