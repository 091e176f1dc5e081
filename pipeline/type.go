package pipeline

import (
	"context"
	"time"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/inference"
	"github.com/khaledhikmat/vs-face/service/muxer"
	"github.com/khaledhikmat/vs-face/service/storage"
	"github.com/khaledhikmat/vs-face/service/webhook"
)

// How long a goroutine waits on a busy stats/error stream before dropping
const waitOnStream = 2 * time.Second

type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	InferenceSvc inference.IService
	MuxerSvc     muxer.IService
	StorageSvc   storage.IService
	WebhookSvc   webhook.IService
}

// Intrinsics is a 3x3 camera matrix, row major.
type Intrinsics [9]float64

type Frame struct {
	Seq        uint64
	Timestamp  float64 // seconds, strictly increasing per source
	Buffer     *PixelBuffer
	Intrinsics *Intrinsics
}

func (f Frame) Release() {
	if f.Buffer != nil {
		f.Buffer.Release()
	}
}

type VideoFormat struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	FPS    float64     `json:"fps"`
	Format PixelFormat `json:"format"`
}

func (f VideoFormat) Known() bool {
	return f.Width > 0 && f.Height > 0 && f.FPS > 0
}

// FrameSource delivers frames. NextFrame is called from one goroutine only.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
	Format() VideoFormat
	Close() error
}

type DetectionMode string

const (
	DetectRectangles DetectionMode = "rectangles"
	DetectLandmarks  DetectionMode = "landmarks"
)

type Landmarks struct {
	LeftEye  []NormalizedPoint `json:"leftEye"`
	RightEye []NormalizedPoint `json:"rightEye"`
	Nose     []NormalizedPoint `json:"nose"`
	Mouth    []NormalizedPoint `json:"mouth"`
	Contour  []NormalizedPoint `json:"contour"`

	// Feature sets placed by face proportions rather than detected
	Estimated []string `json:"estimated,omitempty"`
}

func (l *Landmarks) All() []NormalizedPoint {
	if l == nil {
		return nil
	}
	var all []NormalizedPoint
	for _, set := range [][]NormalizedPoint{l.LeftEye, l.RightEye, l.Nose, l.Mouth, l.Contour} {
		all = append(all, set...)
	}
	return all
}

type DetectedFace struct {
	BoundingBox NormalizedRect `json:"boundingBox"`
	Confidence  float32        `json:"confidence"`
	Landmarks   *Landmarks     `json:"landmarks,omitempty"`
}

// DetectionResultSet belongs to exactly one frame (Seq). An empty Faces slice
// means no faces; a nil *DetectionResultSet means not computed.
type DetectionResultSet struct {
	Seq         uint64         `json:"seq"`
	Timestamp   float64        `json:"timestamp"`
	Orientation Orientation    `json:"orientation"`
	Faces       []DetectedFace `json:"faces"`
}

// AnnotatedFrame is a composited copy of a frame. The caller owns Mat.
type AnnotatedFrame struct {
	Seq       uint64
	Timestamp float64
	Mat       gocv.Mat
	Faces     int
	Skipped   int
}

func (a *AnnotatedFrame) Close() {
	if a != nil {
		a.Mat.Close() // Crucial to close the image to avoid memory leaks
	}
}

// DisplayUpdate is what the presenter shows. The presenter owns Mat.
type DisplayUpdate struct {
	Seq       uint64
	Timestamp float64
	Mat       gocv.Mat
	Faces     int
	Recording RecordingState
}

// Publisher is the display context seen from the frame-delivery goroutine.
// Neither method blocks.
type Publisher interface {
	Publish(update DisplayUpdate)
	Dispatch(task func())
}
