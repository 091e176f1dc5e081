package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-face/model"
)

func TestStamperStrictlyIncreasing(t *testing.T) {
	mock := clock.NewMock()
	s := newStamper(mock)

	first := s.stamp()
	// Same instant twice must still move forward.
	second := s.stamp()
	assert.Greater(t, second, first)

	mock.Add(33 * time.Millisecond)
	third := s.stamp()
	assert.InDelta(t, 0.033, third, 1e-9)
	assert.Greater(t, third, second)
}

func TestSyntheticSource(t *testing.T) {
	source, err := NewSyntheticSource(SyntheticOptions{Width: 64, Height: 48, FPS: 10, Frames: 3})
	require.NoError(t, err)
	defer source.Close()

	assert.Equal(t, VideoFormat{Width: 64, Height: 48, FPS: 10, Format: PixelFormatBGR}, source.Format())

	ctx := context.Background()
	var last float64 = -1
	for i := 1; i <= 3; i++ {
		frame, err := source.NextFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), frame.Seq)
		assert.Greater(t, frame.Timestamp, last)
		assert.Equal(t, 64, frame.Buffer.Width())
		last = frame.Timestamp
		frame.Release()
	}

	_, err = source.NextFrame(ctx)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestSyntheticSourceRejectsBadFormat(t *testing.T) {
	_, err := NewSyntheticSource(SyntheticOptions{Width: 64, Height: 48})
	assert.Error(t, err)
}

func TestSyntheticSourcePacedByClock(t *testing.T) {
	mock := clock.NewMock()
	source, err := NewSyntheticSource(SyntheticOptions{Width: 8, Height: 8, FPS: 10, Clock: mock})
	require.NoError(t, err)
	defer source.Close()

	got := make(chan Frame, 1)
	go func() {
		frame, err := source.NextFrame(context.Background())
		if err == nil {
			got <- frame
		}
	}()

	select {
	case <-got:
		t.Fatal("frame delivered before the clock ticked")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(100 * time.Millisecond)
	select {
	case frame := <-got:
		frame.Release()
	case <-time.After(time.Second):
		t.Fatal("frame not delivered after tick")
	}
}

func TestFramerDropsAndRejects(t *testing.T) {
	source := &scriptedSource{timestamps: []float64{0, 0.1, 0.1, 0.05, 0.2}}
	errorStream := make(chan interface{}, 4)
	statsStream := make(chan interface{}, 4)

	// Nobody reads until the source ends: the first frame holds the slot,
	// later accepted frames are dropped.
	frames := Framer(context.Background(), "scripted", source, errorStream, statsStream)

	var stats model.FramerStats
	select {
	case s := <-statsStream:
		stats = s.(model.FramerStats)
	case <-time.After(5 * time.Second):
		t.Fatal("framer did not finish")
	}

	assert.Equal(t, 3, stats.Frames)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, 2, stats.Rejected)

	frame, ok := <-frames
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Seq)
	frame.Release()

	_, ok = <-frames
	assert.False(t, ok)

	e := <-errorStream
	custom, isCustom := e.(model.CustomError)
	require.True(t, isCustom)
	assert.True(t, errors.Is(custom, ErrSourceUnavailable))
}

func TestFramerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source, err := NewSyntheticSource(SyntheticOptions{Width: 8, Height: 8, FPS: 30})
	require.NoError(t, err)

	frames := Framer(ctx, "synthetic", source, nil, nil)
	first := <-frames
	first.Release()

	cancel()
	for f := range frames {
		f.Release()
	}
}
