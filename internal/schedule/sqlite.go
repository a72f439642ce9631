package schedule

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

const scheduleSchema = `
CREATE TABLE IF NOT EXISTS repository_schedules (
	id TEXT PRIMARY KEY,
	repository_id TEXT,
	repository_url TEXT NOT NULL UNIQUE,
	cron_expression TEXT,
	cadence TEXT NOT NULL,
	enabled_tools TEXT,
	notification_channels TEXT,
	priority TEXT NOT NULL,
	reason TEXT,
	may_be_disabled INTEGER NOT NULL DEFAULT 1,
	is_active INTEGER NOT NULL DEFAULT 0,
	last_run_at TIMESTAMP,
	next_run_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS schedule_runs (
	id TEXT PRIMARY KEY,
	schedule_id TEXT NOT NULL REFERENCES repository_schedules(id),
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	status TEXT NOT NULL,
	findings_count INTEGER NOT NULL DEFAULT 0,
	critical_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_schedule_runs_schedule
	ON schedule_runs (schedule_id, started_at DESC);
`

// SQLiteStore persists schedules in sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a sqlite-backed schedule store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open schedule database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(scheduleSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schedule schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, sched *models.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := s.now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	tools, channels, err := marshalLists(sched)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repository_schedules
		 (id, repository_id, repository_url, cron_expression, cadence, enabled_tools, notification_channels,
		  priority, reason, may_be_disabled, is_active, last_run_at, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID,
		nullStr(sched.RepositoryID),
		sched.RepositoryURL,
		nullStr(sched.CronExpr),
		string(sched.Cadence),
		tools,
		channels,
		string(sched.Priority),
		nullStr(sched.Reason),
		sched.MayBeDisabled,
		sched.IsActive,
		nullTime(sched.LastRunAt),
		nullTime(sched.NextRunAt),
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("%w: create schedule: %v", ErrStoreUnavailable, err)
	}
	return nil
}

const selectSchedule = `SELECT id, repository_id, repository_url, cron_expression, cadence, enabled_tools,
	notification_channels, priority, reason, may_be_disabled, is_active, last_run_at, next_run_at, created_at, updated_at
	FROM repository_schedules`

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return scanSchedule(s.db.QueryRowContext(ctx, selectSchedule+` WHERE id = ?`, id))
}

// GetByRepositoryURL implements Store.
func (s *SQLiteStore) GetByRepositoryURL(ctx context.Context, url string) (*models.Schedule, error) {
	return scanSchedule(s.db.QueryRowContext(ctx, selectSchedule+` WHERE repository_url = ?`, url))
}

// ListActive implements Store.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	return s.query(ctx, selectSchedule+` WHERE is_active = 1 ORDER BY repository_url`)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.query(ctx, selectSchedule+` ORDER BY repository_url`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list schedules: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		sched, err := scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, sched *models.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	tools, channels, err := marshalLists(sched)
	if err != nil {
		return err
	}
	sched.UpdatedAt = s.now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE repository_schedules
		 SET repository_id = ?, repository_url = ?, cron_expression = ?, cadence = ?, enabled_tools = ?,
		     notification_channels = ?, priority = ?, reason = ?, may_be_disabled = ?, is_active = ?,
		     last_run_at = ?, next_run_at = ?, updated_at = ?
		 WHERE id = ?`,
		nullStr(sched.RepositoryID),
		sched.RepositoryURL,
		nullStr(sched.CronExpr),
		string(sched.Cadence),
		tools,
		channels,
		string(sched.Priority),
		nullStr(sched.Reason),
		sched.MayBeDisabled,
		sched.IsActive,
		nullTime(sched.LastRunAt),
		nullTime(sched.NextRunAt),
		sched.UpdatedAt,
		sched.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update schedule: %v", ErrStoreUnavailable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update schedule: %v", ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRun implements Store.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *models.ScheduleRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_runs (id, schedule_id, started_at, completed_at, status, findings_count, critical_count, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.ScheduleID,
		run.StartedAt.UTC(),
		nullTime(run.CompletedAt),
		string(run.Status),
		run.FindingsCount,
		run.CriticalCount,
		run.DurationMs,
		nullStr(run.Error),
	)
	if err != nil {
		return fmt.Errorf("%w: record run: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, scheduleID string, limit int) ([]*models.ScheduleRun, error) {
	query := `SELECT id, schedule_id, started_at, completed_at, status, findings_count, critical_count, duration_ms, error
		FROM schedule_runs WHERE schedule_id = ? ORDER BY started_at DESC, id DESC`
	args := []any{scheduleID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*models.ScheduleRun
	for rows.Next() {
		var run models.ScheduleRun
		var status string
		var completed sql.NullTime
		var errText sql.NullString
		if err := rows.Scan(
			&run.ID, &run.ScheduleID, &run.StartedAt, &completed, &status,
			&run.FindingsCount, &run.CriticalCount, &run.DurationMs, &errText,
		); err != nil {
			return nil, fmt.Errorf("%w: scan run: %v", ErrStoreUnavailable, err)
		}
		run.Status = models.RunStatus(status)
		if completed.Valid {
			run.CompletedAt = completed.Time
		}
		run.Error = errText.String
		out = append(out, &run)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type schedScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row *sql.Row) (*models.Schedule, error) {
	sched, err := scanScheduleRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sched, err
}

func scanScheduleRow(row schedScanner) (*models.Schedule, error) {
	var sched models.Schedule
	var repositoryID, cronExpr, tools, channels, reason sql.NullString
	var cadence, priority string
	var lastRun, nextRun sql.NullTime
	if err := row.Scan(
		&sched.ID,
		&repositoryID,
		&sched.RepositoryURL,
		&cronExpr,
		&cadence,
		&tools,
		&channels,
		&priority,
		&reason,
		&sched.MayBeDisabled,
		&sched.IsActive,
		&lastRun,
		&nextRun,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan schedule: %v", ErrStoreUnavailable, err)
	}
	sched.RepositoryID = repositoryID.String
	sched.CronExpr = cronExpr.String
	sched.Cadence = models.Cadence(cadence)
	sched.Priority = models.SchedulePriority(priority)
	sched.Reason = reason.String
	if lastRun.Valid {
		sched.LastRunAt = lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRunAt = nextRun.Time
	}
	if err := unmarshalList(tools, &sched.EnabledTools); err != nil {
		return nil, err
	}
	if err := unmarshalList(channels, &sched.NotificationChannels); err != nil {
		return nil, err
	}
	return &sched, nil
}

func marshalLists(sched *models.Schedule) (sql.NullString, sql.NullString, error) {
	tools, err := marshalList(sched.EnabledTools)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, err
	}
	channels, err := marshalList(sched.NotificationChannels)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, err
	}
	return tools, channels, nil
}

func marshalList(list []string) (sql.NullString, error) {
	if list == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal schedule list: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalList(src sql.NullString, dest *[]string) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dest); err != nil {
		return fmt.Errorf("unmarshal schedule list: %w", err)
	}
	return nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
