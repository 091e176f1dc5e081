package mode

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

// Live captures from the configured camera, annotates faces and records on
// demand. Recording is toggled with `r` in the window or SIGUSR1 when headless.
func Live(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	// Create an error stream
	errorStream := make(chan interface{}, 16)

	// Create a stats stream
	statsStream := make(chan interface{}, 16)

	liveCtx, liveCanxFn := context.WithCancel(canxCtx)
	defer liveCanxFn()

	display := pipeline.NewDisplay(presenterFor(svcs))

	renderer := pipeline.NewOverlayRenderer(svcs.CfgSvc.GetOverlayParameters())
	defer renderer.Close()

	detectorParams := svcs.CfgSvc.GetDetectorParameters()
	journal := pipeline.NewJournal(detectorParams.Journal)
	defer journal.Close()

	captureParams := svcs.CfgSvc.GetCaptureParameters()
	orientation := pipeline.ExifOrientation(
		pipeline.DeviceOrientation(captureParams.Orientation),
		pipeline.CameraPosition(captureParams.Position))
	detector := pipeline.NewFaceDetector(svcs.InferenceSvc,
		pipeline.DetectionMode(detectorParams.Mode),
		func() pipeline.Orientation { return orientation },
		journal)

	var coordinator *pipeline.Coordinator
	session := pipeline.NewRecordingSession(svcs.CfgSvc, svcs.MuxerSvc, func(rec model.Recording) {
		coordinator.OnRecordingComplete(rec)
	})
	coordinator = pipeline.NewCoordinator(svcs, detector, renderer, session, display, errorStream, statsStream)

	display.BindTrigger('r', session.Toggle)
	display.BindTrigger('q', liveCanxFn)

	// Headless trigger
	toggleChan := make(chan os.Signal, 1)
	signal.Notify(toggleChan, syscall.SIGUSR1)
	defer signal.Stop(toggleChan)

	work := func(ctx context.Context) error {
		// Nothing else to do once the pipeline stops
		defer liveCanxFn()

		source, result, err := pipeline.Setup(ctx, svcs)
		if result != pipeline.SetupSuccess {
			display.Alert(result.Alert())
			procError(svcs.DataSvc, model.GenError("live_setup",
				err,
				map[string]interface{}{"result": result.String()},
				"camera setup failed"))
			if svcs.CfgSvc.GetDisplayParameters().Presenter == "window" {
				// Leave the alert up until the user quits
				<-ctx.Done()
				return nil
			}
			return xerrors.Errorf("setup %s: %w", result, err)
		}
		defer source.Close()

		session.SetFormat(source.Format())
		frames := pipeline.Framer(ctx, captureParams.Source, source, errorStream, statsStream)
		return coordinator.Run(ctx, frames)
	}

	groupResult := make(chan error, 1)
	go func() {
		defer liveCanxFn()
		groupResult <- pipeline.Serve(liveCtx, display, work)
	}()

	var result error

	// Wait for cancellation, stats or errors
	for {
		select {
		case <-liveCtx.Done():
			lgr.Logger.Info(
				"live context cancelled",
			)
			goto resume

		case <-toggleChan:
			session.Toggle()

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Wait in a non-blocking way for the go routines to exit
	// This is needed because the go routines may need to report stats as they are exiting
resume:
	lgr.Logger.Info(
		"live is waiting for all go routines to exit",
	)

	timer := time.NewTimer(time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"live shutdown waiting period expired. Exiting now",
				slog.Duration("period", time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime())*time.Second),
			)
			return result

		case err := <-groupResult:
			result = err
			groupResult = nil
			// Give late reports a moment to land
			timer.Reset(waitOnDrain)

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

const waitOnDrain = 500 * time.Millisecond

func presenterFor(svcs pipeline.ServicesFactory) func() (pipeline.Presenter, error) {
	params := svcs.CfgSvc.GetDisplayParameters()
	if params.Presenter == "window" {
		return pipeline.NewWindowPresenter(params.WindowName)
	}
	return pipeline.NewLogPresenter(30)
}
