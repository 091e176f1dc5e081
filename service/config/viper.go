package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

// NewViper reads settings from an env file (optional) and the environment.
// Nested keys are separated by `__`: CAPTURE__SOURCE, RECORDER__BACKEND, ...
func NewViper(path string) (IService, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefault(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.Errorf("reading config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}

	if err := validator.New().Struct(&s); err != nil {
		return nil, xerrors.Errorf("validating config: %w", err)
	}

	return &hardcodedService{
		settings: s,
	}, nil
}

// Every key needs a default, otherwise AutomaticEnv never sees it during Unmarshal.
func setDefault(v *viper.Viper, d Settings) {
	v.SetDefault("MODE_MAX_SHUTDOWN_TIME", d.ModeMaxShutdownTime)
	v.SetDefault("STATS_PERIODIC_TIMEOUT", d.StatsPeriodicTimeout)
	v.SetDefault("INPUT_FOLDER", d.InputFolder)
	v.SetDefault("RECORDINGS_FOLDER", d.RecordingsFolder)
	v.SetDefault("EXPORT_FOLDER", d.ExportFolder)

	v.SetDefault("LOG__LEVEL", d.Log.Level)
	v.SetDefault("LOG__FILE", d.Log.File)

	v.SetDefault("CAPTURE__SOURCE", d.Capture.Source)
	v.SetDefault("CAPTURE__DEVICE", d.Capture.Device)
	v.SetDefault("CAPTURE__PRESET", d.Capture.Preset)
	v.SetDefault("CAPTURE__FPS", d.Capture.FPS)
	v.SetDefault("CAPTURE__POSITION", d.Capture.Position)
	v.SetDefault("CAPTURE__ORIENTATION", d.Capture.Orientation)
	v.SetDefault("CAPTURE__INTRINSICS", d.Capture.Intrinsics)
	v.SetDefault("CAPTURE__MAX_READ_FAILURES", d.Capture.MaxReadFailures)

	v.SetDefault("DETECTOR__BACKEND", d.Detector.Backend)
	v.SetDefault("DETECTOR__MODE", d.Detector.Mode)
	v.SetDefault("DETECTOR__FACE_CASCADE", d.Detector.FaceCascade)
	v.SetDefault("DETECTOR__EYE_CASCADE", d.Detector.EyeCascade)
	v.SetDefault("DETECTOR__MOUTH_CASCADE", d.Detector.MouthCascade)
	v.SetDefault("DETECTOR__NOSE_CASCADE", d.Detector.NoseCascade)
	v.SetDefault("DETECTOR__MODEL_PATH", d.Detector.ModelPath)
	v.SetDefault("DETECTOR__CONFIG_PATH", d.Detector.ConfigPath)
	v.SetDefault("DETECTOR__CONFIDENCE_THRESHOLD", d.Detector.ConfidenceThreshold)
	v.SetDefault("DETECTOR__JOURNAL", d.Detector.Journal)

	v.SetDefault("OVERLAY__ASSET_PATH", d.Overlay.AssetPath)
	v.SetDefault("OVERLAY__THICKNESS", d.Overlay.Thickness)
	v.SetDefault("OVERLAY__DRAW_LANDMARKS", d.Overlay.DrawLandmarks)

	v.SetDefault("RECORDER__BACKEND", d.Recorder.Backend)
	v.SetDefault("RECORDER__CONTAINER", d.Recorder.Container)
	v.SetDefault("RECORDER__CODEC", d.Recorder.Codec)
	v.SetDefault("RECORDER__QUEUE_SIZE", d.Recorder.QueueSize)
	v.SetDefault("RECORDER__RECORD_ANNOTATED", d.Recorder.RecordAnnotated)

	v.SetDefault("DISPLAY__PRESENTER", d.Display.Presenter)
	v.SetDefault("DISPLAY__WINDOW_NAME", d.Display.WindowName)

	v.SetDefault("SHARE__WEBHOOK_URL", d.Share.WebhookURL)
}
