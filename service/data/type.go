package data

import "github.com/khaledhikmat/vs-face/model"

type IService interface {
	NewError(err interface{}) error
	NewFramerStats(stats model.FramerStats) error
	NewCoordinatorStats(stats model.CoordinatorStats) error
	NewRecorderStats(stats model.RecorderStats) error

	NewRecording(rec model.Recording) error
	// RetrieveRecordings lists finished recordings whose file still exists.
	RetrieveRecordings() ([]model.Recording, error)
}
