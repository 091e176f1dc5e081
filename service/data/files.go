package data

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/khaledhikmat/vs-face/model"
	"github.com/khaledhikmat/vs-face/service/config"
)

const recordingsEntity = "recordings"

type filesDBService struct {
	CfgSvc config.IService
	mu     sync.Mutex
}

func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Message = fmt.Sprintf("%v", err)
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	return newEntity(errorData, "errors", svc.CfgSvc)
}

func (svc *filesDBService) NewFramerStats(stats model.FramerStats) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "framer-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewCoordinatorStats(stats model.CoordinatorStats) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "coordinator-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewRecorderStats(stats model.RecorderStats) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "recorder-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewRecording(rec model.Recording) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if rec.EndedAt == 0 {
		rec.EndedAt = time.Now().Unix()
	}
	return newEntity(rec, recordingsEntity, svc.CfgSvc)
}

func (svc *filesDBService) RetrieveRecordings() ([]model.Recording, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	recordings, err := retrieveEntites[model.Recording](recordingsEntity, svc.CfgSvc)
	if err != nil {
		return nil, err
	}

	return lo.Filter(recordings, func(r model.Recording, _ int) bool {
		if r.Discarded {
			return false
		}
		_, err := os.Stat(r.Path)
		return err == nil
	}), nil
}

func entityFile(filename string, cfgsvc config.IService) string {
	return fmt.Sprintf("%s/%s.json", cfgsvc.GetInputFolder(), filename)
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntites[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)
	return writeEntities(entities, filename, cfgsvc)
}

func writeEntities[T any](entities []T, filename string, cfgsvc config.IService) error {
	// Marshal the entity data to JSON
	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgsvc.GetInputFolder(), 0755); err != nil {
		return err
	}

	// Write the JSON data to the file (with truncation))
	return os.WriteFile(entityFile(filename, cfgsvc), data, 0644)
}

func retrieveEntites[T any](filename string, cfgsvc config.IService) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityFile(filename, cfgsvc))
	if err != nil {
		// WARNIG: File not found, return empty slice
		return entities, nil
	}

	// Unmarshal the JSON data into the slice of entities
	err = json.Unmarshal(data, &entities)
	if err != nil {
		return nil, err
	}

	return entities, nil
}
