package models

import (
	"encoding/json"
	"time"
)

// CachedAnalysis is one stored analysis record. Records are append-mostly:
// older rows are retained for audit and only the newest is consulted.
// Invariant: CachedUntil > ProducedAt.
type CachedAnalysis struct {
	ID           string          `json:"id"`
	RepositoryID string          `json:"repository_id"`
	Analyzer     string          `json:"analyzer"`
	AnalysisData json.RawMessage `json:"analysis_data"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CachedUntil  time.Time       `json:"cached_until"`
	ProducedAt   time.Time       `json:"produced_at"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
}

// ValidAt reports whether the record is still valid at the given instant.
func (c *CachedAnalysis) ValidAt(now time.Time) bool {
	return now.Before(c.CachedUntil)
}
