// Package cache stores analysis results keyed by (repository, analyzer)
// with a TTL. Rows are append-mostly: Put always inserts, older rows are
// retained for audit, and only the newest row per key is consulted.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haasonsaas/reviewd/pkg/models"
)

// DefaultTTL applies when Put is called with a non-positive TTL.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("cache: record not found")

// ErrUnavailable wraps cache I/O failures. Callers treat the cache as
// optional: a run proceeds without it and logs the error.
var ErrUnavailable = errors.New("cache: unavailable")

// Store is the analysis cache contract.
type Store interface {
	// GetLatest returns the newest record for the key regardless of
	// validity, or ErrNotFound.
	GetLatest(ctx context.Context, repositoryID, analyzer string) (*models.CachedAnalysis, error)

	// GetValid returns the newest record whose CachedUntil is still in the
	// future, or ErrNotFound.
	GetValid(ctx context.Context, repositoryID, analyzer string) (*models.CachedAnalysis, error)

	// Put inserts a new record with CachedUntil = now + ttl.
	Put(ctx context.Context, repositoryID, analyzer string, data json.RawMessage, ttl time.Duration, metadata map[string]any) (*models.CachedAnalysis, error)

	// Invalidate expires matching records by setting CachedUntil to now.
	// Empty analyzer matches every analyzer for the repository.
	Invalidate(ctx context.Context, repositoryID, analyzer string) error

	// Close releases underlying resources.
	Close() error
}
