package storage

import "sync"

type FakeService struct {
	mu     sync.Mutex
	stored []string
}

func NewFake() *FakeService {
	return &FakeService{}
}

func (svc *FakeService) StoreFile(fileName string) (string, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.stored = append(svc.stored, fileName)
	return "fake://" + fileName, nil
}

func (svc *FakeService) Stored() []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]string{}, svc.stored...)
}
