package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/docscope/docscope/internal/rag"
)

// ErrNotFound is returned for unknown job, analysis, or query ids.
var ErrNotFound = errors.New("not found")

// JobStore persists job snapshots.
type JobStore interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
}

// ResultStore persists per-vault analysis tables.
type ResultStore interface {
	// SaveAnalysis replaces the template fields of one document's row.
	SaveAnalysis(ctx context.Context, vaultID, documentID string, fields map[string]string) error
	// SetColumn replaces one custom column value of one document's row.
	SetColumn(ctx context.Context, vaultID, documentID, column, value string) error
	// ListAnalyses returns all rows of a vault ordered by document id.
	ListAnalyses(ctx context.Context, vaultID string) ([]StoredAnalysis, error)
	// ClearAnalyses drops every row of a vault.
	ClearAnalyses(ctx context.Context, vaultID string) error
}

// QueryLog retains ask results for later retrieval by query id.
type QueryLog interface {
	SaveQuery(ctx context.Context, result *rag.AskResult) error
	GetQuery(ctx context.Context, id string) (*rag.AskResult, error)
}

// Store bundles the three persistence concerns of the job subsystem.
type Store interface {
	JobStore
	ResultStore
	QueryLog
}

// MemoryStore is the in-process Store used when Redis is disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	results map[string]map[string]*StoredAnalysis
	queries map[string]*rag.AskResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		results: make(map[string]map[string]*StoredAnalysis),
		queries: make(map[string]*rag.AskResult),
	}
}

func (s *MemoryStore) SaveJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) SaveAnalysis(_ context.Context, vaultID, documentID string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(vaultID, documentID)
	row.Fields = copyMap(fields)
	row.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetColumn(_ context.Context, vaultID, documentID, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(vaultID, documentID)
	if row.Columns == nil {
		row.Columns = make(map[string]string)
	}
	row.Columns[column] = value
	row.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListAnalyses(_ context.Context, vaultID string) ([]StoredAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]StoredAnalysis, 0, len(s.results[vaultID]))
	for _, row := range s.results[vaultID] {
		cp := *row
		cp.Fields = copyMap(row.Fields)
		cp.Columns = copyMap(row.Columns)
		rows = append(rows, cp)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DocumentID < rows[j].DocumentID })
	return rows, nil
}

func (s *MemoryStore) ClearAnalyses(_ context.Context, vaultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, vaultID)
	return nil
}

func (s *MemoryStore) SaveQuery(_ context.Context, result *rag.AskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.queries[result.QueryID] = &cp
	return nil
}

func (s *MemoryStore) GetQuery(_ context.Context, id string) (*rag.AskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.queries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *result
	return &cp, nil
}

// row returns the vault/document row, creating it if needed. Caller holds
// the write lock.
func (s *MemoryStore) row(vaultID, documentID string) *StoredAnalysis {
	vault, ok := s.results[vaultID]
	if !ok {
		vault = make(map[string]*StoredAnalysis)
		s.results[vaultID] = vault
	}
	row, ok := vault[documentID]
	if !ok {
		row = &StoredAnalysis{DocumentID: documentID}
		vault[documentID] = row
	}
	return row
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
