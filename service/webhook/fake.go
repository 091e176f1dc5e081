package webhook

import "sync"

type FakeService struct {
	mu       sync.Mutex
	payloads []map[string]interface{}
}

func NewFake() *FakeService {
	return &FakeService{}
}

func (svc *FakeService) Post(payload map[string]interface{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.payloads = append(svc.payloads, payload)
	return nil
}

func (svc *FakeService) Payloads() []map[string]interface{} {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]map[string]interface{}{}, svc.payloads...)
}
