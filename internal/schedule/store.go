package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/reviewd/pkg/models"
)

var (
	// ErrNotFound is returned when no schedule or run matches.
	ErrNotFound = errors.New("schedule: not found")

	// ErrAlreadyExists is returned on duplicate schedule creation.
	ErrAlreadyExists = errors.New("schedule: already exists")

	// ErrStoreUnavailable wraps persistence failures; ticks are deferred
	// rather than dropped when the store is down.
	ErrStoreUnavailable = errors.New("schedule: store unavailable")
)

// Store persists schedules and their run history. Schedules are unique per
// repository URL.
type Store interface {
	Create(ctx context.Context, s *models.Schedule) error
	Get(ctx context.Context, id string) (*models.Schedule, error)
	GetByRepositoryURL(ctx context.Context, url string) (*models.Schedule, error)
	ListActive(ctx context.Context) ([]*models.Schedule, error)
	List(ctx context.Context) ([]*models.Schedule, error)
	Update(ctx context.Context, s *models.Schedule) error

	RecordRun(ctx context.Context, run *models.ScheduleRun) error
	// ListRuns returns the newest runs for a schedule, most recent first.
	ListRuns(ctx context.Context, scheduleID string, limit int) ([]*models.ScheduleRun, error)

	Close() error
}

// ConsecutiveFailures counts the failed or errored runs at the head of a
// schedule's history.
func ConsecutiveFailures(ctx context.Context, store Store, scheduleID string) (int, error) {
	runs, err := store.ListRuns(ctx, scheduleID, 10)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, run := range runs {
		if run.Status == models.RunSuccess {
			break
		}
		count++
	}
	return count, nil
}

// MemoryStore is an in-memory Store for tests and single-process setups.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.Schedule
	byURL map[string]string
	runs  map[string][]*models.ScheduleRun // newest last
	now   func() time.Time
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*MemoryStore)

// WithStoreNow injects a clock for tests.
func WithStoreNow(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory schedule store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byID:  make(map[string]*models.Schedule),
		byURL: make(map[string]string),
		runs:  make(map[string][]*models.ScheduleRun),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, sched *models.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[sched.RepositoryURL]; exists {
		return ErrAlreadyExists
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := s.now()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	s.byID[sched.ID] = cloneSchedule(sched)
	s.byURL[sched.RepositoryURL] = sched.ID
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSchedule(sched), nil
}

// GetByRepositoryURL implements Store.
func (s *MemoryStore) GetByRepositoryURL(ctx context.Context, url string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSchedule(s.byID[id]), nil
}

// ListActive implements Store.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	return s.list(func(sched *models.Schedule) bool { return sched.IsActive })
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.list(func(*models.Schedule) bool { return true })
}

func (s *MemoryStore) list(keep func(*models.Schedule) bool) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Schedule
	for _, sched := range s.byID {
		if keep(sched) {
			out = append(out, cloneSchedule(sched))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepositoryURL < out[j].RepositoryURL })
	return out, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, sched *models.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[sched.ID]
	if !ok {
		return ErrNotFound
	}
	sched.CreatedAt = existing.CreatedAt
	sched.UpdatedAt = s.now()
	if existing.RepositoryURL != sched.RepositoryURL {
		delete(s.byURL, existing.RepositoryURL)
		s.byURL[sched.RepositoryURL] = sched.ID
	}
	s.byID[sched.ID] = cloneSchedule(sched)
	return nil
}

// RecordRun implements Store.
func (s *MemoryStore) RecordRun(ctx context.Context, run *models.ScheduleRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[run.ScheduleID]; !ok {
		return ErrNotFound
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	clone := *run
	s.runs[run.ScheduleID] = append(s.runs[run.ScheduleID], &clone)
	return nil
}

// ListRuns implements Store.
func (s *MemoryStore) ListRuns(ctx context.Context, scheduleID string, limit int) ([]*models.ScheduleRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runs[scheduleID]
	out := make([]*models.ScheduleRun, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		clone := *runs[i]
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneSchedule(sched *models.Schedule) *models.Schedule {
	clone := *sched
	clone.EnabledTools = append([]string(nil), sched.EnabledTools...)
	clone.NotificationChannels = append([]string(nil), sched.NotificationChannels...)
	return &clone
}
