package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/service/lgr"
)

type SetupResult int

const (
	SetupSuccess SetupResult = iota
	SetupNotAuthorized
	SetupConfigurationFailed
)

func (r SetupResult) String() string {
	switch r {
	case SetupSuccess:
		return "success"
	case SetupNotAuthorized:
		return "notAuthorized"
	case SetupConfigurationFailed:
		return "configurationFailed"
	default:
		return "unknown"
	}
}

// Alert is the message shown to the user for a failed setup.
func (r SetupResult) Alert() string {
	switch r {
	case SetupNotAuthorized:
		return "Camera access was denied. Grant access to the camera device in the system settings and restart."
	case SetupConfigurationFailed:
		return "Unable to configure the camera with the requested settings."
	default:
		return ""
	}
}

type Preset struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var Presets = []Preset{
	{Name: "cif352x288", Width: 352, Height: 288},
	{Name: "vga640x480", Width: 640, Height: 480},
	{Name: "iFrame960x540", Width: 960, Height: 540},
	{Name: "hd1280x720", Width: 1280, Height: 720},
	{Name: "iFrame1280x720", Width: 1280, Height: 720},
	{Name: "hd1920x1080", Width: 1920, Height: 1080},
	{Name: "hd4K3840x2160", Width: 3840, Height: 2160},
}

func PresetByName(name string) (Preset, bool) {
	return lo.Find(Presets, func(p Preset) bool {
		return p.Name == name
	})
}

// AvailablePresets returns the presets the capture device accepts. It leaves
// the device at the last probed size.
func AvailablePresets(capture *gocv.VideoCapture) []Preset {
	return lo.Filter(Presets, func(p Preset, _ int) bool {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(p.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(p.Height))
		return int(capture.Get(gocv.VideoCaptureFrameWidth)) == p.Width &&
			int(capture.Get(gocv.VideoCaptureFrameHeight)) == p.Height
	})
}

// ParseIntrinsics reads "fx,fy,cx,cy". An empty string means none.
func ParseIntrinsics(s string) (*Intrinsics, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, xerrors.Errorf("intrinsics %q: want fx,fy,cx,cy", s)
	}

	v := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, xerrors.Errorf("intrinsics %q: %w", s, err)
		}
		v[i] = f
	}

	return &Intrinsics{
		v[0], 0, v[2],
		0, v[1], v[3],
		0, 0, 1,
	}, nil
}

// Setup opens the configured frame source. It may block and must not run on
// the frame-delivery goroutine. Failures are not retried.
func Setup(_ context.Context, svcs ServicesFactory) (FrameSource, SetupResult, error) {
	params := svcs.CfgSvc.GetCaptureParameters()

	intrinsics, err := ParseIntrinsics(params.Intrinsics)
	if err != nil {
		return nil, SetupConfigurationFailed, err
	}

	preset, ok := PresetByName(params.Preset)
	if !ok {
		return nil, SetupConfigurationFailed, xerrors.Errorf("unknown preset %s", params.Preset)
	}

	if params.Source == "synthetic" {
		source, err := NewSyntheticSource(SyntheticOptions{
			Width:      preset.Width,
			Height:     preset.Height,
			FPS:        float64(params.FPS),
			Clock:      clock.New(),
			Intrinsics: intrinsics,
		})
		if err != nil {
			return nil, SetupConfigurationFailed, err
		}
		return source, SetupSuccess, nil
	}

	if err := checkDeviceAccess(params.Device); err != nil {
		return nil, SetupNotAuthorized, err
	}

	capture, err := gocv.OpenVideoCapture(params.Device)
	if err != nil {
		return nil, SetupConfigurationFailed, xerrors.Errorf("opening device %s: %w", params.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, SetupConfigurationFailed, xerrors.Errorf("device %s did not open", params.Device)
	}

	available := AvailablePresets(capture)
	lgr.Logger.Info("camera presets",
		slog.String("device", params.Device),
		slog.Any("available", lo.Map(available, func(p Preset, _ int) string { return p.Name })),
	)

	if !lo.ContainsBy(available, func(p Preset) bool { return p.Name == preset.Name }) {
		capture.Close()
		return nil, SetupConfigurationFailed, xerrors.Errorf("device %s does not support preset %s", params.Device, preset.Name)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(preset.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(preset.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(params.FPS))
	// Keep at most one frame in the driver so frames are never stale
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = float64(params.FPS)
	}

	format := VideoFormat{
		Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    fps,
		Format: PixelFormatBGR,
	}

	lgr.Logger.Info("camera configured",
		slog.String("device", params.Device),
		slog.String("preset", preset.Name),
		slog.Int("width", format.Width),
		slog.Int("height", format.Height),
		slog.Float64("fps", format.FPS),
	)

	return &deviceSource{
		capture:     capture,
		device:      params.Device,
		format:      format,
		stamper:     newStamper(clock.New()),
		intrinsics:  intrinsics,
		maxFailures: params.MaxReadFailures,
	}, SetupSuccess, nil
}

// checkDeviceAccess reports a permission error for a V4L2 device node. Other
// failures are left to the capture backend.
func checkDeviceAccess(device string) error {
	path := device
	if _, err := strconv.Atoi(device); err == nil {
		path = fmt.Sprintf("/dev/video%s", device)
	}
	if !strings.HasPrefix(path, "/dev/") {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return xerrors.Errorf("camera %s: %w", path, err)
		}
		return nil
	}
	return f.Close()
}
