package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/reviewd/pkg/models"
)

type memoryKey struct {
	repositoryID string
	analyzer     string
}

// MemoryStore is an in-memory cache for tests and single-process setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey][]*models.CachedAnalysis // newest last
	now     func() time.Time
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*MemoryStore)

// WithNow injects a clock for tests.
func WithNow(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[memoryKey][]*models.CachedAnalysis),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetLatest implements Store.
func (s *MemoryStore) GetLatest(ctx context.Context, repositoryID, analyzer string) (*models.CachedAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.records[memoryKey{repositoryID, analyzer}]
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return cloneRecord(rows[len(rows)-1]), nil
}

// GetValid implements Store.
func (s *MemoryStore) GetValid(ctx context.Context, repositoryID, analyzer string) (*models.CachedAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.records[memoryKey{repositoryID, analyzer}]
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	newest := rows[len(rows)-1]
	if !newest.ValidAt(s.now()) {
		return nil, ErrNotFound
	}
	return cloneRecord(newest), nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, repositoryID, analyzer string, data json.RawMessage, ttl time.Duration, metadata map[string]any) (*models.CachedAnalysis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now()
	record := &models.CachedAnalysis{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		Analyzer:     analyzer,
		AnalysisData: append(json.RawMessage(nil), data...),
		Metadata:     cloneMetadata(metadata),
		CachedUntil:  now.Add(ttl),
		ProducedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey{repositoryID, analyzer}
	s.records[key] = append(s.records[key], record)
	return cloneRecord(record), nil
}

// Invalidate implements Store.
func (s *MemoryStore) Invalidate(ctx context.Context, repositoryID, analyzer string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rows := range s.records {
		if key.repositoryID != repositoryID {
			continue
		}
		if analyzer != "" && key.analyzer != analyzer {
			continue
		}
		for _, row := range rows {
			if row.CachedUntil.After(now) {
				row.CachedUntil = now
			}
		}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRecord(r *models.CachedAnalysis) *models.CachedAnalysis {
	clone := *r
	clone.AnalysisData = append(json.RawMessage(nil), r.AnalysisData...)
	clone.Metadata = cloneMetadata(r.Metadata)
	return &clone
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
