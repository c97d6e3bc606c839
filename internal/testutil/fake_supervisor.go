package testutil

import (
	"context"
	"sync"

	"github.com/editsuite/orchestrator/internal/models"
)

// FakeSupervisor stands in for the transcription runtime.
type FakeSupervisor struct {
	// HealthOK is what Healthy reports once started.
	HealthOK bool
	// StartErr, when set, is returned by Start.
	StartErr error
	BaseURL  string

	mu     sync.Mutex
	ready  bool
	starts int
	stops  int
}

func (f *FakeSupervisor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.StartErr != nil {
		return f.StartErr
	}
	f.ready = true
	return nil
}

func (f *FakeSupervisor) Stop() {
	f.mu.Lock()
	f.ready = false
	f.stops++
	f.mu.Unlock()
}

func (f *FakeSupervisor) Healthy(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready && f.HealthOK
}

func (f *FakeSupervisor) Status() models.RuntimeStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.RuntimeStatus{IsReady: f.ready, BaseURL: f.BaseURL, ProcessRunning: f.ready}
}

// Starts returns how many times Start was called.
func (f *FakeSupervisor) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// Stops returns how many times Stop was called.
func (f *FakeSupervisor) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
