package config

type CaptureParameters struct {
	Source          string `mapstructure:"source" validate:"oneof=device synthetic"`
	Device          string `mapstructure:"device"`
	Preset          string `mapstructure:"preset"`
	FPS             int    `mapstructure:"fps" validate:"gte=1,lte=240"`
	Position        string `mapstructure:"position" validate:"oneof=front back"`
	Orientation     string `mapstructure:"orientation" validate:"oneof=portrait portraitUpsideDown landscapeLeft landscapeRight"`
	Intrinsics      string `mapstructure:"intrinsics"` // fx,fy,cx,cy
	MaxReadFailures int    `mapstructure:"max_read_failures" validate:"gte=1"`
}

type DetectorParameters struct {
	Backend             string  `mapstructure:"backend" validate:"oneof=cascade dnn fake"`
	Mode                string  `mapstructure:"mode" validate:"oneof=rectangles landmarks"`
	FaceCascade         string  `mapstructure:"face_cascade"`
	EyeCascade          string  `mapstructure:"eye_cascade"`
	MouthCascade        string  `mapstructure:"mouth_cascade"`
	NoseCascade         string  `mapstructure:"nose_cascade"`
	ModelPath           string  `mapstructure:"model_path"`
	ConfigPath          string  `mapstructure:"config_path"`
	ConfidenceThreshold float32 `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	Journal             string  `mapstructure:"journal"`
}

type OverlayParameters struct {
	AssetPath     string `mapstructure:"asset_path"`
	Thickness     int    `mapstructure:"thickness" validate:"gte=1"`
	DrawLandmarks bool   `mapstructure:"draw_landmarks"`
}

type RecorderParameters struct {
	Backend         string `mapstructure:"backend" validate:"oneof=gocv ffmpeg"`
	Container       string `mapstructure:"container" validate:"required"`
	Codec           string `mapstructure:"codec" validate:"required"`
	QueueSize       int    `mapstructure:"queue_size" validate:"gte=1"`
	RecordAnnotated bool   `mapstructure:"record_annotated"`
}

type DisplayParameters struct {
	Presenter  string `mapstructure:"presenter" validate:"oneof=window log"`
	WindowName string `mapstructure:"window_name"`
}

type ShareParameters struct {
	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`
}

type LogParameters struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

// Settings is the whole configuration tree. Keys use `__` between levels
// (e.g. CAPTURE__SOURCE).
type Settings struct {
	ModeMaxShutdownTime  int    `mapstructure:"mode_max_shutdown_time" validate:"gte=1"`
	StatsPeriodicTimeout int    `mapstructure:"stats_periodic_timeout" validate:"gte=1"`
	InputFolder          string `mapstructure:"input_folder" validate:"required"`
	RecordingsFolder     string `mapstructure:"recordings_folder" validate:"required"`
	ExportFolder         string `mapstructure:"export_folder" validate:"required"`

	Log      LogParameters      `mapstructure:"log"`
	Capture  CaptureParameters  `mapstructure:"capture"`
	Detector DetectorParameters `mapstructure:"detector"`
	Overlay  OverlayParameters  `mapstructure:"overlay"`
	Recorder RecorderParameters `mapstructure:"recorder"`
	Display  DisplayParameters  `mapstructure:"display"`
	Share    ShareParameters    `mapstructure:"share"`
}

type IService interface {
	GetModeMaxShutdownTime() int
	GetStatsPeriodicTimeout() int
	GetInputFolder() string
	GetRecordingsFolder() string
	GetExportFolder() string
	GetLogParameters() LogParameters
	GetCaptureParameters() CaptureParameters
	GetDetectorParameters() DetectorParameters
	GetOverlayParameters() OverlayParameters
	GetRecorderParameters() RecorderParameters
	GetDisplayParameters() DisplayParameters
	GetShareParameters() ShareParameters
}
