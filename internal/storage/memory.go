package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// MemoryRepositoryStore is an in-memory RepositoryStore for tests and
// single-process setups.
type MemoryRepositoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.Repository
	byURL map[string]string // url -> id
	now   func() time.Time
}

// NewMemoryRepositoryStore creates an empty in-memory store.
func NewMemoryRepositoryStore() *MemoryRepositoryStore {
	return &MemoryRepositoryStore{
		byID:  make(map[string]*models.Repository),
		byURL: make(map[string]string),
		now:   time.Now,
	}
}

// Create implements RepositoryStore.
func (s *MemoryRepositoryStore) Create(ctx context.Context, repo *models.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	if _, exists := s.byID[repo.ID]; exists {
		return ErrAlreadyExists
	}
	if repo.URL != "" {
		if _, exists := s.byURL[repo.URL]; exists {
			return ErrAlreadyExists
		}
	}
	now := s.now()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	s.byID[repo.ID] = cloneRepository(repo)
	if repo.URL != "" {
		s.byURL[repo.URL] = repo.ID
	}
	return nil
}

// Get implements RepositoryStore.
func (s *MemoryRepositoryStore) Get(ctx context.Context, id string) (*models.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRepository(repo), nil
}

// GetByURL implements RepositoryStore.
func (s *MemoryRepositoryStore) GetByURL(ctx context.Context, url string) (*models.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRepository(s.byID[id]), nil
}

// List implements RepositoryStore. Results are ordered newest first.
func (s *MemoryRepositoryStore) List(ctx context.Context, limit, offset int) ([]*models.Repository, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Repository, 0, len(s.byID))
	for _, repo := range s.byID {
		all = append(all, repo)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]*models.Repository, len(all))
	for i, repo := range all {
		out[i] = cloneRepository(repo)
	}
	return out, total, nil
}

// Update implements RepositoryStore.
func (s *MemoryRepositoryStore) Update(ctx context.Context, repo *models.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[repo.ID]
	if !ok {
		return ErrNotFound
	}
	repo.CreatedAt = existing.CreatedAt
	repo.UpdatedAt = s.now()
	if existing.URL != repo.URL {
		delete(s.byURL, existing.URL)
		if repo.URL != "" {
			s.byURL[repo.URL] = repo.ID
		}
	}
	s.byID[repo.ID] = cloneRepository(repo)
	return nil
}

func cloneRepository(r *models.Repository) *models.Repository {
	clone := *r
	if r.Languages != nil {
		clone.Languages = make(map[string]int64, len(r.Languages))
		for k, v := range r.Languages {
			clone.Languages[k] = v
		}
	}
	return &clone
}
