package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHardCodedDefaults(t *testing.T) {
	svc := NewHardCoded()

	assert.Equal(t, 5, svc.GetModeMaxShutdownTime())
	assert.Equal(t, "./recordings", svc.GetRecordingsFolder())
	assert.Equal(t, "mp4", svc.GetRecorderParameters().Container)
	assert.Equal(t, "rectangles", svc.GetDetectorParameters().Mode)
}

func TestHardCodedOverrides(t *testing.T) {
	svc := NewHardCoded(func(s *Settings) {
		s.RecordingsFolder = "/tmp/out"
		s.Capture.Source = "synthetic"
	})

	assert.Equal(t, "/tmp/out", svc.GetRecordingsFolder())
	assert.Equal(t, "synthetic", svc.GetCaptureParameters().Source)
	assert.Equal(t, 30, svc.GetCaptureParameters().FPS)
}

func TestViperDefaults(t *testing.T) {
	svc, err := NewViper("")
	require.NoError(t, err)

	assert.Equal(t, Defaults().Capture, svc.GetCaptureParameters())
	assert.Equal(t, Defaults().Recorder, svc.GetRecorderParameters())
}

func TestViperEnvOverrides(t *testing.T) {
	t.Setenv("CAPTURE__FPS", "15")
	t.Setenv("DETECTOR__BACKEND", "fake")
	t.Setenv("RECORDINGS_FOLDER", "/var/recordings")

	svc, err := NewViper("")
	require.NoError(t, err)

	assert.Equal(t, 15, svc.GetCaptureParameters().FPS)
	assert.Equal(t, "fake", svc.GetDetectorParameters().Backend)
	assert.Equal(t, "/var/recordings", svc.GetRecordingsFolder())
}

func TestViperEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "RECORDER__BACKEND=ffmpeg\nDISPLAY__PRESENTER=log\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	svc, err := NewViper(path)
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", svc.GetRecorderParameters().Backend)
	assert.Equal(t, "log", svc.GetDisplayParameters().Presenter)
}

func TestViperValidation(t *testing.T) {
	t.Setenv("DETECTOR__BACKEND", "yolo")

	_, err := NewViper("")
	assert.Error(t, err)
}

func TestViperMissingFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
