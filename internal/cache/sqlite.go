package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/reviewd/pkg/models"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS repository_analysis (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL,
	analyzer TEXT NOT NULL,
	analysis_data TEXT NOT NULL,
	metadata TEXT,
	cached_until TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_repository_analysis_key
	ON repository_analysis (repository_id, analyzer, created_at DESC);
`

// SQLiteStore persists analysis records in sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption configures the sqlite store.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteNow injects a clock for tests.
func WithSQLiteNow(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLiteStore opens (or creates) a sqlite-backed cache at path.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetLatest implements Store.
func (s *SQLiteStore) GetLatest(ctx context.Context, repositoryID, analyzer string) (*models.CachedAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repository_id, analyzer, analysis_data, metadata, cached_until, duration_ms, created_at
		 FROM repository_analysis
		 WHERE repository_id = ? AND analyzer = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		repositoryID, analyzer)
	return scanRecord(row)
}

// GetValid implements Store. The newest row alone is consulted: an expired
// newest row shadows any still-valid older row.
func (s *SQLiteStore) GetValid(ctx context.Context, repositoryID, analyzer string) (*models.CachedAnalysis, error) {
	record, err := s.GetLatest(ctx, repositoryID, analyzer)
	if err != nil {
		return nil, err
	}
	if !record.ValidAt(s.now()) {
		return nil, ErrNotFound
	}
	return record, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, repositoryID, analyzer string, data json.RawMessage, ttl time.Duration, metadata map[string]any) (*models.CachedAnalysis, error) {
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

	var metaBytes []byte
	if record.Metadata != nil {
		var err error
		metaBytes, err = json.Marshal(record.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal cache metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repository_analysis (id, repository_id, analyzer, analysis_data, metadata, cached_until, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.RepositoryID,
		record.Analyzer,
		string(record.AnalysisData),
		nullString(string(metaBytes)),
		record.CachedUntil.UTC(),
		record.DurationMs,
		record.ProducedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert analysis: %v", ErrUnavailable, err)
	}
	return record, nil
}

// Invalidate implements Store.
func (s *SQLiteStore) Invalidate(ctx context.Context, repositoryID, analyzer string) error {
	now := s.now().UTC()
	query := `UPDATE repository_analysis SET cached_until = ? WHERE repository_id = ? AND cached_until > ?`
	args := []any{now, repositoryID, now}
	if analyzer != "" {
		query += ` AND analyzer = ?`
		args = append(args, analyzer)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: invalidate: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row) (*models.CachedAnalysis, error) {
	var record models.CachedAnalysis
	var data string
	var meta sql.NullString
	if err := row.Scan(
		&record.ID,
		&record.RepositoryID,
		&record.Analyzer,
		&data,
		&meta,
		&record.CachedUntil,
		&record.DurationMs,
		&record.ProducedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan analysis: %v", ErrUnavailable, err)
	}
	record.AnalysisData = json.RawMessage(data)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal cache metadata: %w", err)
		}
	}
	return &record, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
