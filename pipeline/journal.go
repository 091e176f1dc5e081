package pipeline

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/khaledhikmat/vs-face/service/lgr"
)

// Journal appends frames with detections to a rotated JSON lines file. A nil
// Journal records nothing.
type Journal struct {
	out *lumberjack.Logger
}

func NewJournal(path string) *Journal {
	if path == "" {
		return nil
	}

	return &Journal{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7,    // days
			Compress:   true, // compress old logs
		},
	}
}

func (j *Journal) Record(results *DetectionResultSet) {
	if j == nil || results == nil || len(results.Faces) == 0 {
		return // skip logging if none match
	}

	entry := struct {
		Time string `json:"time"`
		*DetectionResultSet
	}{
		Time:               time.Now().Format(time.RFC3339Nano),
		DetectionResultSet: results,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		lgr.Logger.Error("error marshaling detections", lgr.Err(err))
		return
	}

	if _, err := j.out.Write(append(data, '\n')); err != nil {
		lgr.Logger.Error("error writing to detection journal", slog.String("file", j.out.Filename), lgr.Err(err))
	}
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.out.Close()
}
