package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/pipeline"
	"github.com/khaledhikmat/vs-face/service/data"
	"github.com/khaledhikmat/vs-face/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(datasvc data.IService, stats interface{}) {
	var err error
	switch stats := stats.(type) {
	case model.FramerStats:
		err = datasvc.NewFramerStats(stats)
	case model.CoordinatorStats:
		err = datasvc.NewCoordinatorStats(stats)
	case model.RecorderStats:
		err = datasvc.NewRecorderStats(stats)
	case model.Recording:
		err = datasvc.NewRecording(stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
		return
	}

	if err != nil {
		lgr.Logger.Error(
			"failed to store stats",
			slog.Any("stats", stats),
			lgr.Err(err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			lgr.Err(errTemp),
		)
	}
}
