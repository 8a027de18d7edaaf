package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"odatacheck/internal/rules"
)

// MemoryStore keeps jobs in process. It backs the server when no DSN is
// configured.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	results map[string][]rules.Result
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		results: make(map[string][]rules.Result),
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("failed to create job %s: already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Services = slices.Clone(job.Services)
	m.jobs[job.ID] = &job
	return nil
}

func (m *MemoryStore) StartJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.Status = StatusRunning
	return nil
}

func (m *MemoryStore) FinishJob(_ context.Context, id, runID string, exitCode int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now().UTC()
	code := exitCode
	j.Status = finalStatus(exitCode, errMsg)
	j.RunID = runID
	j.ExitCode = &code
	j.Error = errMsg
	j.FinishedAt = &now
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *j
	out.Services = slices.Clone(j.Services)
	return &out, nil
}

func (m *MemoryStore) SaveResult(_ context.Context, jobID string, r rules.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	// Round-trip through the row form so both stores return the same shape.
	m.results[jobID] = append(m.results[jobID], assembleResults(rowsForResult(r))...)
	return nil
}

func (m *MemoryStore) ListResults(_ context.Context, jobID string) ([]rules.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return slices.Clone(m.results[jobID]), nil
}
