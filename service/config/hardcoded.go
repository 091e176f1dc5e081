package config

type hardcodedService struct {
	settings Settings
}

// NewHardCoded returns the default settings, optionally adjusted by overrides.
func NewHardCoded(overrides ...func(*Settings)) IService {
	s := Defaults()
	for _, override := range overrides {
		override(&s)
	}

	return &hardcodedService{
		settings: s,
	}
}

func Defaults() Settings {
	return Settings{
		ModeMaxShutdownTime:  5,
		StatsPeriodicTimeout: 30,
		InputFolder:          "./settings",
		RecordingsFolder:     "./recordings",
		ExportFolder:         "./exports",
		Log: LogParameters{
			Level: "info",
			File:  "vs-face.log",
		},
		Capture: CaptureParameters{
			Source:          "device",
			Device:          "0",
			Preset:          "vga640x480",
			FPS:             30,
			Position:        "front",
			Orientation:     "landscapeRight",
			MaxReadFailures: 30,
		},
		Detector: DetectorParameters{
			Backend:             "cascade",
			Mode:                "rectangles",
			FaceCascade:         "./models/haarcascade_frontalface_default.xml",
			EyeCascade:          "./models/haarcascade_eye.xml",
			MouthCascade:        "./models/haarcascade_mcs_mouth.xml",
			NoseCascade:         "./models/haarcascade_mcs_nose.xml",
			ModelPath:           "./models/res10_300x300_ssd_iter_140000.caffemodel",
			ConfigPath:          "./models/deploy.prototxt",
			ConfidenceThreshold: 0.5,
			Journal:             "detections.log",
		},
		Overlay: OverlayParameters{
			Thickness:     3,
			DrawLandmarks: true,
		},
		Recorder: RecorderParameters{
			Backend:         "gocv",
			Container:       "mp4",
			Codec:           "avc1",
			QueueSize:       30,
			RecordAnnotated: true,
		},
		Display: DisplayParameters{
			Presenter:  "window",
			WindowName: "vs-face",
		},
	}
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	return svc.settings.ModeMaxShutdownTime
}

func (svc *hardcodedService) GetStatsPeriodicTimeout() int {
	return svc.settings.StatsPeriodicTimeout
}

func (svc *hardcodedService) GetInputFolder() string {
	return svc.settings.InputFolder
}

func (svc *hardcodedService) GetRecordingsFolder() string {
	return svc.settings.RecordingsFolder
}

func (svc *hardcodedService) GetExportFolder() string {
	return svc.settings.ExportFolder
}

func (svc *hardcodedService) GetLogParameters() LogParameters {
	return svc.settings.Log
}

func (svc *hardcodedService) GetCaptureParameters() CaptureParameters {
	return svc.settings.Capture
}

func (svc *hardcodedService) GetDetectorParameters() DetectorParameters {
	return svc.settings.Detector
}

func (svc *hardcodedService) GetOverlayParameters() OverlayParameters {
	return svc.settings.Overlay
}

func (svc *hardcodedService) GetRecorderParameters() RecorderParameters {
	return svc.settings.Recorder
}

func (svc *hardcodedService) GetDisplayParameters() DisplayParameters {
	return svc.settings.Display
}

func (svc *hardcodedService) GetShareParameters() ShareParameters {
	return svc.settings.Share
}
