// Package workspace provides per-execution scratch directories that
// materialize a pull request's file set on disk for tools that need real
// paths. Workspaces are created for one tool run and removed when the run
// releases them.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// ErrLimitExceeded is returned when the PR file set exceeds the configured
// resource limits.
var ErrLimitExceeded = errors.New("workspace resource limit exceeded")

// Limits bounds what a single workspace may materialize.
type Limits struct {
	MaxFiles      int
	MaxTotalBytes int64
	Timeout       time.Duration
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      2000,
		MaxTotalBytes: 64 << 20,
		Timeout:       60 * time.Second,
	}
}

// Manager creates and reclaims scratch workspaces under a single root
// directory. Orphans from a previous process are swept on construction.
type Manager struct {
	root   string
	limits Limits
	logger *observability.Logger

	mu   sync.Mutex
	open map[string]string // workspace id -> path
}

// Option configures the workspace manager.
type Option func(*Manager)

// WithLimits overrides the default resource limits.
func WithLimits(limits Limits) Option {
	return func(m *Manager) { m.limits = limits }
}

// NewManager creates a manager rooted at dir, creating it if needed and
// removing any leftover workspace directories from prior runs.
func NewManager(dir string, logger *observability.Logger, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	m := &Manager{
		root:   dir,
		limits: DefaultLimits(),
		logger: logger,
		open:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sweep()
	return m, nil
}

// sweep removes stale workspace directories left behind by a crashed
// process. Only directories with the ws- prefix are touched.
func (m *Manager) sweep() {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "ws-") {
			_ = os.RemoveAll(filepath.Join(m.root, entry.Name()))
		}
	}
}

// Workspace is one prepared scratch directory. Release must be called on
// every exit path once Prepare succeeds.
type Workspace struct {
	ID    string
	Path  string
	Files []string

	manager  *Manager
	paths    map[string]string // original path -> workspace-relative path
	released sync.Once
}

// Release removes the workspace directory. It is safe to call more than
// once.
func (w *Workspace) Release() {
	w.released.Do(func() {
		w.manager.mu.Lock()
		delete(w.manager.open, w.ID)
		w.manager.mu.Unlock()
		if err := os.RemoveAll(w.Path); err != nil {
			w.manager.logger.Warn(context.Background(), "workspace cleanup failed",
				"workspace_id", w.ID, "path", w.Path, "error", err)
		}
	})
}

// Prepare materializes the context's non-deleted files into a fresh
// directory. File paths are rewritten to stay inside the workspace; a path
// that escapes after cleaning is rejected.
func (m *Manager) Prepare(ctx context.Context, ac *models.AnalysisContext) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := "ws-" + uuid.NewString()
	path := filepath.Join(m.root, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", id, err)
	}

	ws := &Workspace{ID: id, Path: path, manager: m, paths: make(map[string]string)}
	m.mu.Lock()
	m.open[id] = path
	m.mu.Unlock()

	if err := m.materialize(ctx, ws, ac); err != nil {
		ws.Release()
		return nil, err
	}

	m.logger.Debug(ctx, "workspace prepared", "workspace_id", id, "files", len(ws.Files))
	return ws, nil
}

func (m *Manager) materialize(ctx context.Context, ws *Workspace, ac *models.AnalysisContext) error {
	if ac == nil || ac.PR == nil {
		return nil
	}

	var total int64
	count := 0
	for _, f := range ac.PR.Files {
		if f.ChangeType == models.ChangeDeleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		count++
		if m.limits.MaxFiles > 0 && count > m.limits.MaxFiles {
			return fmt.Errorf("%w: more than %d files", ErrLimitExceeded, m.limits.MaxFiles)
		}
		total += int64(len(f.Content))
		if m.limits.MaxTotalBytes > 0 && total > m.limits.MaxTotalBytes {
			return fmt.Errorf("%w: more than %d bytes", ErrLimitExceeded, m.limits.MaxTotalBytes)
		}

		rel, err := rewritePath(f.Path)
		if err != nil {
			return err
		}
		dest := filepath.Join(ws.Path, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
		ws.Files = append(ws.Files, rel)
		ws.paths[f.Path] = rel
	}
	return nil
}

// Rewrite returns a copy of the context whose file paths point at the
// materialized copies inside the workspace. Deleted files, which are never
// materialized, keep their repository-relative paths. The caller's context
// is left untouched.
func (w *Workspace) Rewrite(ac *models.AnalysisContext) *models.AnalysisContext {
	if ac == nil || ac.PR == nil || len(w.paths) == 0 {
		return ac
	}
	clone := *ac
	pr := *ac.PR
	pr.Files = append([]models.File(nil), ac.PR.Files...)
	for i := range pr.Files {
		if rel, ok := w.paths[pr.Files[i].Path]; ok {
			pr.Files[i].Path = filepath.Join(w.Path, rel)
		}
	}
	clone.PR = &pr
	return &clone
}

// Relativize maps a path inside the workspace back to its
// repository-relative form. Paths outside the workspace pass through
// unchanged.
func (w *Workspace) Relativize(p string) string {
	rel, err := filepath.Rel(w.Path, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return p
	}
	return filepath.ToSlash(rel)
}

// rewritePath normalizes a repository-relative path and rejects anything
// that would escape the workspace root.
func rewritePath(p string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(p)))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file path %q escapes workspace", p)
	}
	return cleaned, nil
}

// OpenCount reports how many workspaces are currently live. Used by tests
// and the health endpoint.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Limits returns the active resource limits.
func (m *Manager) Limits() Limits {
	return m.limits
}
