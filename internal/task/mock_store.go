package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/store"
)

// MockJobStore is an in-memory store.JobStore for testing. Claims are
// serialized by a mutex, which gives the same exactly-once guarantee as the
// conditional update of the real stores.
type MockJobStore struct {
	mutex sync.Mutex
	jobs  map[uuid.UUID]*domain.Job

	// ClaimNextErr, when set, is returned by ClaimNext.
	ClaimNextErr error
}

// NewMockJobStore creates a store holding the given jobs.
func NewMockJobStore(jobs ...*domain.Job) *MockJobStore {
	s := &MockJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

// Enqueue implements store.JobStore.
func (s *MockJobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicate
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// GetJob implements store.JobStore.
func (s *MockJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ClaimNext implements store.JobStore.
func (s *MockJobStore) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.ClaimNextErr != nil {
		return nil, s.ClaimNextErr
	}

	var queued []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusQueued {
			queued = append(queued, j)
		}
	}
	if len(queued) == 0 {
		return nil, nil
	}
	sort.Slice(queued, func(a, b int) bool { return queued[a].CreatedAt.Before(queued[b].CreatedAt) })

	j := queued[0]
	s.claim(j, workerID)
	cp := *j
	return &cp, nil
}

func (s *MockJobStore) claim(j *domain.Job, workerID string) {
	now := time.Now().UTC()
	j.Status = domain.JobStatusProcessing
	j.ClaimedBy = workerID
	j.ClaimedAt = &now
	j.UpdatedAt = now
}

// MarkProcessing implements store.JobStore.
func (s *MockJobStore) MarkProcessing(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusQueued {
		return false, nil
	}
	s.claim(j, workerID)
	return true, nil
}

// MarkCompleted implements store.JobStore.
func (s *MockJobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, workerID string, output json.RawMessage) error {
	return s.finish(jobID, workerID, domain.JobStatusCompleted, func(j *domain.Job) { j.Output = output })
}

// MarkFailed implements store.JobStore.
func (s *MockJobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, workerID, message string) error {
	return s.finish(jobID, workerID, domain.JobStatusFailed, func(j *domain.Job) { j.ErrorMessage = message })
}

func (s *MockJobStore) finish(jobID uuid.UUID, workerID string, target domain.JobStatus, apply func(*domain.Job)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}
	if j.Status != domain.JobStatusProcessing || j.ClaimedBy != workerID {
		return store.TerminalConflict(j.Status, j.ClaimedBy, workerID, target)
	}
	j.Status = target
	j.UpdatedAt = time.Now().UTC()
	apply(j)
	return nil
}

// Heartbeat implements store.JobStore.
func (s *MockJobStore) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusProcessing || j.ClaimedBy != workerID {
		return false, nil
	}
	now := time.Now().UTC()
	j.ClaimedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// ResetStuck implements store.JobStore.
func (s *MockJobStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff) {
			j.Status = domain.JobStatusQueued
			j.ClaimedBy = ""
			j.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

// Reassign hands a processing job to another worker, as ResetStuck followed
// by a new claim would.
func (s *MockJobStore) Reassign(jobID uuid.UUID, workerID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		s.claim(j, workerID)
	}
}

// Backdate moves a job's claim time into the past.
func (s *MockJobStore) Backdate(jobID uuid.UUID, d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if j, ok := s.jobs[jobID]; ok && j.ClaimedAt != nil {
		t := j.ClaimedAt.Add(-d)
		j.ClaimedAt = &t
	}
}

var _ store.JobStore = (*MockJobStore)(nil)
