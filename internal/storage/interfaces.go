// Package storage persists repository records. Schedules and cached
// analyses have their own stores in internal/schedule and internal/cache;
// StoreSet groups everything that shares a database handle.
package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/reviewd/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// RepositoryStore persists repository metadata. Repositories are created
// on first observation and updated on refresh; nothing deletes them.
type RepositoryStore interface {
	Create(ctx context.Context, repo *models.Repository) error
	Get(ctx context.Context, id string) (*models.Repository, error)
	GetByURL(ctx context.Context, url string) (*models.Repository, error)
	List(ctx context.Context, limit, offset int) ([]*models.Repository, int, error)
	Update(ctx context.Context, repo *models.Repository) error
}

// StoreSet groups storage dependencies behind one Close.
type StoreSet struct {
	Repositories RepositoryStore
	closer       func() error
}

// NewStoreSet wraps stores with an optional closer.
func NewStoreSet(repos RepositoryStore, closer func() error) StoreSet {
	return StoreSet{Repositories: repos, closer: closer}
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Observe finds the repository for a URL, creating it on first sight and
// refreshing mutable metadata on subsequent observations.
func Observe(ctx context.Context, store RepositoryStore, incoming *models.Repository) (*models.Repository, error) {
	if err := incoming.Validate(); err != nil {
		return nil, err
	}
	existing, err := store.GetByURL(ctx, incoming.URL)
	if errors.Is(err, ErrNotFound) {
		if createErr := store.Create(ctx, incoming); createErr != nil {
			return nil, createErr
		}
		return incoming, nil
	}
	if err != nil {
		return nil, err
	}

	existing.Private = incoming.Private
	existing.IsProduction = incoming.IsProduction
	if incoming.PrimaryLanguage != "" {
		existing.PrimaryLanguage = incoming.PrimaryLanguage
	}
	if incoming.Languages != nil {
		existing.Languages = incoming.Languages
	}
	if incoming.SizeBytes > 0 {
		existing.SizeBytes = incoming.SizeBytes
	}
	if err := store.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}
