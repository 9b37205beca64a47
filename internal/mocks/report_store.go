package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/store"
)

// ReportStore is an in-memory store.ReportStore that records every write.
// It is safe for concurrent use.
type ReportStore struct {
	mu       sync.Mutex
	reports  map[uuid.UUID]*domain.Report
	progress []string
	results  int

	// CreateErr, when set, is returned by CreateReport instead of inserting.
	CreateErr error
}

var _ store.ReportStore = (*ReportStore)(nil)

// NewReportStore creates a store seeded with reports.
func NewReportStore(reports ...*domain.Report) *ReportStore {
	m := &ReportStore{reports: make(map[uuid.UUID]*domain.Report)}
	for _, r := range reports {
		m.reports[r.ID] = r
	}
	return m
}

// CreateReport implements store.ReportStore.CreateReport.
func (m *ReportStore) CreateReport(ctx context.Context, r *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.reports[r.ID]; ok {
		return store.ErrDuplicate
	}
	m.reports[r.ID] = r
	return nil
}

// GetReport implements store.ReportStore.GetReport. It returns a copy.
func (m *ReportStore) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, store.ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

// SaveProgress implements store.ReportStore.SaveProgress.
func (m *ReportStore) SaveProgress(ctx context.Context, id uuid.UUID, content string, seq int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return false, store.ErrReportNotFound
	}
	if seq <= r.ProgressSeq {
		return false, nil
	}
	r.GeneratedContent = content
	r.ProgressSeq = seq
	m.progress = append(m.progress, content)
	return true, nil
}

// SaveResult implements store.ReportStore.SaveResult.
func (m *ReportStore) SaveResult(ctx context.Context, id uuid.UUID, content string, sections domain.SectionTree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return store.ErrReportNotFound
	}
	r.GeneratedContent = content
	r.Sections = sections
	r.ProgressSeq++
	m.results++
	return nil
}

// Snapshot returns a copy of the stored report; the zero Report when absent.
func (m *ReportStore) Snapshot(id uuid.UUID) domain.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		return *r
	}
	return domain.Report{}
}

// Progress returns the applied progress writes in order.
func (m *ReportStore) Progress() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.progress...)
}

// Results counts SaveResult calls.
func (m *ReportStore) Results() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results
}

// Len returns the number of stored reports.
func (m *ReportStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}
