package storage

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

const repositorySchema = `
CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	url TEXT NOT NULL UNIQUE,
	private INTEGER NOT NULL DEFAULT 0,
	is_production INTEGER NOT NULL DEFAULT 0,
	primary_language TEXT,
	languages TEXT,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// NewSQLiteStores opens a sqlite database at path and returns the store
// set backed by it.
func NewSQLiteStores(path string) (StoreSet, error) {
	if strings.TrimSpace(path) == "" {
		return StoreSet{}, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(repositorySchema); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("apply repository schema: %w", err)
	}
	return NewStoreSet(&sqliteRepositoryStore{db: db, now: time.Now}, db.Close), nil
}

type sqliteRepositoryStore struct {
	db  *sql.DB
	now func() time.Time
}

func (s *sqliteRepositoryStore) Create(ctx context.Context, repo *models.Repository) error {
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	now := s.now().UTC()
	repo.CreatedAt = now
	repo.UpdatedAt = now

	languages, err := marshalLanguages(repo.Languages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, provider, owner, name, url, private, is_production, primary_language, languages, size_bytes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.ID,
		string(repo.Provider),
		repo.Owner,
		repo.Name,
		repo.URL,
		repo.Private,
		repo.IsProduction,
		nullable(repo.PrimaryLanguage),
		languages,
		repo.SizeBytes,
		repo.CreatedAt,
		repo.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *sqliteRepositoryStore) Get(ctx context.Context, id string) (*models.Repository, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.scanOne(s.db.QueryRowContext(ctx, selectRepository+` WHERE id = ?`, id))
}

func (s *sqliteRepositoryStore) GetByURL(ctx context.Context, url string) (*models.Repository, error) {
	if url == "" {
		return nil, ErrNotFound
	}
	return s.scanOne(s.db.QueryRowContext(ctx, selectRepository+` WHERE url = ?`, url))
}

func (s *sqliteRepositoryStore) List(ctx context.Context, limit, offset int) ([]*models.Repository, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM repositories`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count repositories: %w", err)
	}

	query := selectRepository + ` ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, repo)
	}
	return out, total, rows.Err()
}

func (s *sqliteRepositoryStore) Update(ctx context.Context, repo *models.Repository) error {
	languages, err := marshalLanguages(repo.Languages)
	if err != nil {
		return err
	}
	repo.UpdatedAt = s.now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE repositories
		 SET provider = ?, owner = ?, name = ?, url = ?, private = ?, is_production = ?,
		     primary_language = ?, languages = ?, size_bytes = ?, updated_at = ?
		 WHERE id = ?`,
		string(repo.Provider),
		repo.Owner,
		repo.Name,
		repo.URL,
		repo.Private,
		repo.IsProduction,
		nullable(repo.PrimaryLanguage),
		languages,
		repo.SizeBytes,
		repo.UpdatedAt,
		repo.ID,
	)
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const selectRepository = `SELECT id, provider, owner, name, url, private, is_production, primary_language, languages, size_bytes, created_at, updated_at FROM repositories`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqliteRepositoryStore) scanOne(row *sql.Row) (*models.Repository, error) {
	repo, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return repo, err
}

func scanRepository(row rowScanner) (*models.Repository, error) {
	var repo models.Repository
	var provider string
	var primaryLanguage, languages sql.NullString
	if err := row.Scan(
		&repo.ID,
		&provider,
		&repo.Owner,
		&repo.Name,
		&repo.URL,
		&repo.Private,
		&repo.IsProduction,
		&primaryLanguage,
		&languages,
		&repo.SizeBytes,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	repo.Provider = models.Provider(provider)
	repo.PrimaryLanguage = primaryLanguage.String
	if languages.Valid && languages.String != "" {
		if err := json.Unmarshal([]byte(languages.String), &repo.Languages); err != nil {
			return nil, fmt.Errorf("unmarshal repository languages: %w", err)
		}
	}
	return &repo, nil
}

func marshalLanguages(languages map[string]int64) (sql.NullString, error) {
	if languages == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(languages)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal repository languages: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
