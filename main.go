package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-face/mode"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/config"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/inference"
	"github.com/khaledhikmat/vs-face/service/lgr"
	"github.com/khaledhikmat/vs-face/service/muxer"
	"github.com/khaledhikmat/vs-face/service/storage"
	"github.com/khaledhikmat/vs-face/service/webhook"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"live":       mode.Live,
	"recordings": mode.Recordings,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Warn("no .env file, using the environment only", lgr.Err(err))
		}
	}

	modeType := "live"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// Config service
	cfgSvc, err := config.NewViper(os.Getenv("ENV_PATH"))
	if err != nil {
		lgr.Logger.Error("invalid configuration", lgr.Err(err))
		panic("invalid configuration")
	}

	logParams := cfgSvc.GetLogParameters()
	logCloser := lgr.Init(logParams.Level, logParams.File)
	defer logCloser.Close()

	// Every pipeline pass is a span; its ids tag the pass's log records
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tracerProvider)
	defer tracerProvider.Shutdown(rootCtx)

	svcs, err := newServices(canxCtx, cfgSvc, modeType)
	if err != nil {
		lgr.Logger.Error("error creating services", lgr.Err(err))
		panic("error creating services")
	}
	defer func() {
		if svcs.InferenceSvc != nil {
			svcs.InferenceSvc.Close()
		}
	}()

	// Create mode processor result
	modeProcResult := make(chan error)
	defer close(modeProcResult)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for cancellation or mode proc
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"vs-face context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"vs-face mode processor exited",
					lgr.Err(err),
				)
			}
			// Nothing is left running
			return
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for all the go routines to exit
	// This is needed because the go routines may need to report errors as they are existing
resume:
	lgr.Logger.Info(
		"vs-face is waiting for all go routines to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Timer expired, proceed with shutdown
			lgr.Logger.Info(
				"vs-face shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)
			return

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"vs-face mode processor exited",
					lgr.Err(err),
				)
			}
			return
		}
	}
}

// newServices builds the services the mode needs. The recordings mode only
// reads the catalog.
func newServices(ctx context.Context, cfgSvc config.IService, modeType string) (pipeline.ServicesFactory, error) {
	svcs := pipeline.ServicesFactory{
		CfgSvc:     cfgSvc,
		DataSvc:    data.NewFilesDB(cfgSvc),
		StorageSvc: storage.NewFolder(cfgSvc),
		WebhookSvc: webhook.NewHTTP(cfgSvc),
	}
	if modeType != "live" {
		return svcs, nil
	}

	var err error
	switch cfgSvc.GetDetectorParameters().Backend {
	case "dnn":
		svcs.InferenceSvc, err = inference.NewDNN(cfgSvc)
	case "fake":
		svcs.InferenceSvc = inference.NewFake(inference.FakeBox{X: 0.4, Y: 0.4, W: 0.2, H: 0.2})
	default:
		svcs.InferenceSvc, err = inference.NewCascade(cfgSvc)
	}

	var muxErr error
	switch cfgSvc.GetRecorderParameters().Backend {
	case "ffmpeg":
		svcs.MuxerSvc, muxErr = muxer.NewFFmpeg(ctx)
	default:
		svcs.MuxerSvc = muxer.NewGoCV()
	}

	if err = multierr.Append(err, muxErr); err != nil {
		return svcs, xerrors.Errorf("live services: %w", err)
	}
	return svcs, nil
}
