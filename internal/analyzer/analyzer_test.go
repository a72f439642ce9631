package analyzer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/reviewd/internal/cache"
	"github.com/haasonsaas/reviewd/internal/executor"
	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/internal/tools"
	"github.com/haasonsaas/reviewd/internal/workspace"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// countingTool records how many times it executed.
type countingTool struct {
	id       string
	roles    []models.AgentRole
	finding  *models.Finding
	failWith error
	calls    atomic.Int32
}

func (c *countingTool) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		ID:             c.id,
		Kind:           models.ToolInProcess,
		SupportedRoles: c.roles,
	}
}

func (c *countingTool) Execute(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
	c.calls.Add(1)
	if c.failWith != nil {
		return nil, c.failWith
	}
	result := &models.ToolResult{ToolID: c.id, Success: true, StartedAt: time.Now()}
	if c.finding != nil {
		result.Findings = []models.Finding{*c.finding}
	}
	return result, nil
}

func (c *countingTool) HealthCheck(ctx context.Context) error { return nil }

type fixture struct {
	analyzer *Analyzer
	cache    *cache.MemoryStore
	registry *tools.Registry
	now      *time.Time
	tools    map[string]*countingTool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	wsm, err := workspace.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	registry := tools.NewRegistry()
	selector := tools.NewSelector(registry)
	allRoles := []models.AgentRole{
		models.RoleArchitecture, models.RoleCodeQuality, models.RoleSecurity,
		models.RoleDependencies, models.RolePatterns,
	}
	toolSet := map[string]*countingTool{
		"alpha": {id: "alpha", roles: allRoles, finding: &models.Finding{
			Kind: models.FindingIssue, Severity: models.SeverityMedium,
			Category: "style", File: "main.go", Line: 5, Message: "long function",
		}},
		"beta": {id: "beta", roles: allRoles},
	}
	for _, tool := range toolSet {
		registry.Register(tool)
	}
	if err := selector.Configure(tools.SelectionKey{}, tools.Selection{
		Primary:   []string{"alpha"},
		Fallbacks: []string{"beta"},
	}); err != nil {
		t.Fatal(err)
	}

	store := cache.NewMemoryStore(cache.WithNow(clock))
	exec := executor.New(wsm, logger, metrics, executor.Config{})
	f := &fixture{
		cache:    store,
		registry: registry,
		now:      &now,
		tools:    toolSet,
	}
	f.analyzer = New(exec, store, registry, selector, logger, metrics,
		WithNow(func() time.Time { return *f.now }))
	return f
}

func analysisContext() *models.AnalysisContext {
	return &models.AnalysisContext{
		Role: models.RoleCodeQuality,
		Repository: &models.Repository{
			ID: "repo-1", Provider: models.ProviderGitHub,
			Owner: "acme", Name: "api", URL: "https://github.com/acme/api",
			PrimaryLanguage: "Go",
		},
		PR: &models.PullRequest{Number: 7, Files: []models.File{
			{Path: "main.go", Content: "package main\n", ChangeType: models.ChangeModified},
		}},
	}
}

func TestQuickUsesCompatibleTools(t *testing.T) {
	f := newFixture(t)
	report, err := f.analyzer.Quick(context.Background(), analysisContext(), nil)
	if err != nil {
		t.Fatalf("Quick() error = %v", err)
	}
	if report.Tier != TierQuick {
		t.Errorf("tier = %s", report.Tier)
	}
	// Both registered tools serve the role and are universal by language.
	if got := len(report.Result.ToolsSucceeded); got != 2 {
		t.Errorf("tools run = %d, want 2", got)
	}
	if len(report.Result.Findings) != 1 {
		t.Errorf("findings = %d", len(report.Result.Findings))
	}
	// Quick annotates diff languages on the way in.
	if report.FromCache {
		t.Error("quick result claimed to come from cache")
	}
}

func TestComprehensiveCachesOnSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.analyzer.Comprehensive(ctx, analysisContext(), nil)
	if err != nil {
		t.Fatalf("Comprehensive() error = %v", err)
	}
	if first.FromCache {
		t.Error("first run served from cache")
	}

	second, err := f.analyzer.Comprehensive(ctx, analysisContext(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Error("second run not served from cache")
	}
	if got := f.tools["alpha"].calls.Load(); got != 1 {
		t.Errorf("primary tool executed %d times, want 1", got)
	}
	if second.Score != first.Score {
		t.Errorf("cached score %v != fresh score %v", second.Score, first.Score)
	}
}

func TestComprehensiveRecomputesAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.analyzer.Comprehensive(ctx, analysisContext(), nil); err != nil {
		t.Fatal(err)
	}

	*f.now = f.now.Add(cache.DefaultTTL + time.Minute)
	report, err := f.analyzer.Comprehensive(ctx, analysisContext(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.FromCache {
		t.Error("expired record reused")
	}
	if got := f.tools["alpha"].calls.Load(); got != 2 {
		t.Errorf("primary tool executed %d times, want 2", got)
	}
}

func TestTargetedPerspectivesCachedIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.analyzer.Targeted(ctx, analysisContext(),
		[]models.AgentRole{models.RoleSecurity, models.RoleArchitecture}, nil)
	if err != nil {
		t.Fatalf("Targeted() error = %v", err)
	}
	if len(first.Perspectives) != 2 {
		t.Fatalf("perspectives = %d, want 2", len(first.Perspectives))
	}
	callsAfterFirst := f.tools["alpha"].calls.Load()

	// Security is cached; adding patterns executes only the new perspective.
	second, err := f.analyzer.Targeted(ctx, analysisContext(),
		[]models.AgentRole{models.RoleSecurity, models.RolePatterns}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Perspectives) != 2 {
		t.Fatalf("perspectives = %d, want 2", len(second.Perspectives))
	}
	if got := f.tools["alpha"].calls.Load(); got != callsAfterFirst+1 {
		t.Errorf("tool calls = %d, want %d (one fresh perspective)", got, callsAfterFirst+1)
	}
}

func TestTargetedDefaultsToAllPerspectives(t *testing.T) {
	f := newFixture(t)
	report, err := f.analyzer.Targeted(context.Background(), analysisContext(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Perspectives) != len(AllPerspectives) {
		t.Errorf("perspectives = %d, want %d", len(report.Perspectives), len(AllPerspectives))
	}
	// Duplicate findings across perspectives collapse in the composite.
	if len(report.Result.Findings) != 1 {
		t.Errorf("composite findings = %d, want 1", len(report.Result.Findings))
	}
}

func TestCancelledRunNotCached(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.analyzer.Comprehensive(ctx, analysisContext(), nil)
	if err == nil {
		t.Fatal("cancelled run reported success")
	}
	if _, cacheErr := f.cache.GetLatest(context.Background(), "repo-1", "comprehensive"); !errors.Is(cacheErr, cache.ErrNotFound) {
		t.Error("cancelled run wrote to the cache")
	}
}

func TestQuickNoCompatibleTools(t *testing.T) {
	f := newFixture(t)
	f.registry.Unregister("alpha")
	f.registry.Unregister("beta")
	if _, err := f.analyzer.Quick(context.Background(), analysisContext(), nil); !errors.Is(err, executor.ErrNoTools) {
		t.Errorf("expected ErrNoTools, got %v", err)
	}
}
