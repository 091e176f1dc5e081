package model

import (
	"fmt"
	"runtime/debug"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// Recording describes one finished (or discarded) recording session.
type Recording struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Container string  `json:"container"`
	Codec     string  `json:"codec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FPS       float64 `json:"fps"`
	Frames    int     `json:"frames"`   // Frames appended to the muxer
	Dropped   int     `json:"dropped"`  // Frames dropped because the muxer was not ready
	Duration  float64 `json:"duration"` // Relative time of the last appended frame
	StartedAt int64   `json:"startedAt"`
	EndedAt   int64   `json:"endedAt"`
	Discarded bool    `json:"discarded"`
	Reason    string  `json:"reason,omitempty"`
	ShareURL  string  `json:"shareUrl,omitempty"`
}

type FramerStats struct {
	Name      string `json:"name"`
	Device    string `json:"device"`
	FPS       int    `json:"fps"`
	Frames    int    `json:"frames"`
	Dropped   int    `json:"dropped"`  // Frames dropped because the coordinator was busy
	Rejected  int    `json:"rejected"` // Frames rejected for a non-increasing timestamp
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

type CoordinatorStats struct {
	Name            string  `json:"name"`
	Passes          int     `json:"passes"`
	Rejected        int     `json:"rejected"`
	Faces           int     `json:"faces"`
	DetectionErrors int     `json:"detectionErrors"`
	OverlayErrors   int     `json:"overlayErrors"`
	SkippedOverlays int     `json:"skippedOverlays"`
	FrameReadErrors int     `json:"frameReadErrors"` // Frames not recorded because their pixels could not be read
	AvgProcTime     float64 `json:"avgProcTime"`
	Uptime          int64   `json:"uptime"`
	Timestamp       int64   `json:"timestamp"`
}

type RecorderStats struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Recordings int    `json:"recordings"`
	Discarded  int    `json:"discarded"`
	Appended   int    `json:"appended"`
	Dropped    int    `json:"dropped"`
	Ignored    int    `json:"ignored"` // Frames observed outside of the active state
	Timestamp  int64  `json:"timestamp"`
}
