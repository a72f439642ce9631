package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// storeFixtures runs every Store test against both implementations.
func storeFixtures(t *testing.T, now *time.Time) map[string]Store {
	t.Helper()
	clock := func() time.Time { return *now }

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), WithSQLiteNow(clock))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(WithNow(clock)),
		"sqlite": sqlite,
	}
}

func TestPutThenGetValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range storeFixtures(t, &now) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := json.RawMessage(`{"score": 92}`)
			put, err := store.Put(ctx, "repo-1", "comprehensive", data, time.Hour, map[string]any{"tier": "comprehensive"})
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if !put.CachedUntil.Equal(now.Add(time.Hour)) {
				t.Errorf("CachedUntil = %v, want now+1h", put.CachedUntil)
			}

			got, err := store.GetValid(ctx, "repo-1", "comprehensive")
			if err != nil {
				t.Fatalf("GetValid() error = %v", err)
			}
			if string(got.AnalysisData) != string(data) {
				t.Errorf("AnalysisData = %s", got.AnalysisData)
			}
			if got.Metadata["tier"] != "comprehensive" {
				t.Errorf("Metadata = %v", got.Metadata)
			}
		})
	}
}

func TestGetValidExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range storeFixtures(t, &now) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "repo-1", "quick", json.RawMessage(`{}`), time.Hour, nil); err != nil {
				t.Fatal(err)
			}

			now = now.Add(2 * time.Hour)
			if _, err := store.GetValid(ctx, "repo-1", "quick"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expired record returned by GetValid: %v", err)
			}
			// Latest still serves the expired row.
			if _, err := store.GetLatest(ctx, "repo-1", "quick"); err != nil {
				t.Errorf("GetLatest() after expiry error = %v", err)
			}
			now = now.Add(-2 * time.Hour)
		})
	}
}

func TestNewestRowWins(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range storeFixtures(t, &now) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "repo-1", "security", json.RawMessage(`{"v":1}`), time.Hour, nil); err != nil {
				t.Fatal(err)
			}
			now = now.Add(time.Minute)
			if _, err := store.Put(ctx, "repo-1", "security", json.RawMessage(`{"v":2}`), time.Hour, nil); err != nil {
				t.Fatal(err)
			}

			got, err := store.GetLatest(ctx, "repo-1", "security")
			if err != nil {
				t.Fatal(err)
			}
			if string(got.AnalysisData) != `{"v":2}` {
				t.Errorf("latest = %s, want the second row", got.AnalysisData)
			}
			now = now.Add(-time.Minute)
		})
	}
}

func TestInvalidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range storeFixtures(t, &now) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, analyzer := range []string{"quick", "security"} {
				if _, err := store.Put(ctx, "repo-1", analyzer, json.RawMessage(`{}`), time.Hour, nil); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := store.Put(ctx, "repo-2", "quick", json.RawMessage(`{}`), time.Hour, nil); err != nil {
				t.Fatal(err)
			}

			// Targeted invalidation.
			if err := store.Invalidate(ctx, "repo-1", "quick"); err != nil {
				t.Fatal(err)
			}
			now = now.Add(time.Second)
			if _, err := store.GetValid(ctx, "repo-1", "quick"); !errors.Is(err, ErrNotFound) {
				t.Error("invalidated analyzer still valid")
			}
			if _, err := store.GetValid(ctx, "repo-1", "security"); err != nil {
				t.Errorf("untouched analyzer invalidated: %v", err)
			}

			// Repository-wide invalidation.
			if err := store.Invalidate(ctx, "repo-1", ""); err != nil {
				t.Fatal(err)
			}
			now = now.Add(time.Second)
			if _, err := store.GetValid(ctx, "repo-1", "security"); !errors.Is(err, ErrNotFound) {
				t.Error("repository-wide invalidation missed an analyzer")
			}
			if _, err := store.GetValid(ctx, "repo-2", "quick"); err != nil {
				t.Errorf("other repository affected: %v", err)
			}
			now = now.Add(-2 * time.Second)
		})
	}
}

func TestGetMissing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range storeFixtures(t, &now) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.GetLatest(context.Background(), "nope", "quick"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetLatest() = %v, want ErrNotFound", err)
			}
			if _, err := store.GetValid(context.Background(), "nope", "quick"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetValid() = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithNow(func() time.Time { return now }))
	put, err := store.Put(context.Background(), "repo-1", "quick", json.RawMessage(`{}`), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !put.CachedUntil.Equal(now.Add(DefaultTTL)) {
		t.Errorf("CachedUntil = %v, want now+%v", put.CachedUntil, DefaultTTL)
	}
}
