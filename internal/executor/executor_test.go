package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/internal/tools"
	"github.com/haasonsaas/reviewd/internal/workspace"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// stubTool is a scriptable tool for executor tests.
type stubTool struct {
	id      string
	execute func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error)
}

func (s *stubTool) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		ID:             s.id,
		Kind:           models.ToolInProcess,
		SupportedRoles: []models.AgentRole{models.RoleCodeQuality},
	}
}

func (s *stubTool) Execute(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
	if s.execute != nil {
		return s.execute(ctx, ac)
	}
	return &models.ToolResult{ToolID: s.id, Success: true, StartedAt: time.Now()}, nil
}

func (s *stubTool) HealthCheck(ctx context.Context) error { return nil }

func succeeding(id string) *stubTool { return &stubTool{id: id} }

func failing(id string) *stubTool {
	return &stubTool{id: id, execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
		return nil, errors.New("analyzer crashed")
	}}
}

func withFinding(id string, f models.Finding) *stubTool {
	return &stubTool{id: id, execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
		return &models.ToolResult{ToolID: id, Success: true, StartedAt: time.Now(), Findings: []models.Finding{f}}, nil
	}}
}

func testExecutor(t *testing.T, config Config) *Executor {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	ws, err := workspace.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(ws, logger, metrics, config)
}

func execContext() *models.AnalysisContext {
	return &models.AnalysisContext{
		Role:       models.RoleCodeQuality,
		Repository: &models.Repository{ID: "r1", Provider: models.ProviderGitHub, Owner: "acme", Name: "api"},
		PR: &models.PullRequest{Number: 1, Files: []models.File{
			{Path: "main.go", Content: "package main\n", ChangeType: models.ChangeModified, Language: "Go"},
		}},
	}
}

func asTools(stubs ...*stubTool) []tools.Tool {
	out := make([]tools.Tool, len(stubs))
	for i, s := range stubs {
		out[i] = s
	}
	return out
}

func TestRunParallelAllCompleteness(t *testing.T) {
	e := testExecutor(t, Config{})
	sel := Selected{
		Primary:   asTools(succeeding("a"), failing("b"), succeeding("c")),
		Fallbacks: asTools(failing("d")),
	}
	result, err := e.Run(context.Background(), StrategyParallelAll, sel, execContext(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(result.ToolsSucceeded) + len(result.ToolsFailed); got != 4 {
		t.Errorf("results = %d, want one per selected tool (4)", got)
	}
	if len(result.ToolsSucceeded) != 2 || len(result.ToolsFailed) != 2 {
		t.Errorf("succeeded=%v failed=%v", result.ToolsSucceeded, result.ToolsFailed)
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	const bound = 3
	var inFlight, peak atomic.Int32
	var stubs []*stubTool
	for i := 0; i < 12; i++ {
		stubs = append(stubs, &stubTool{
			id: string(rune('a' + i)),
			execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return &models.ToolResult{Success: true, StartedAt: time.Now()}, nil
			},
		})
	}

	e := testExecutor(t, Config{MaxConcurrency: bound})
	if _, err := e.Run(context.Background(), StrategyParallelAll, Selected{Primary: asTools(stubs...)}, execContext(), nil); err != nil {
		t.Fatal(err)
	}
	if p := peak.Load(); p > bound {
		t.Errorf("peak in-flight = %d, exceeds bound %d", p, bound)
	}
}

func TestRunPerToolTimeout(t *testing.T) {
	slow := &stubTool{id: "slow", execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e := testExecutor(t, Config{PerToolTimeout: 30 * time.Millisecond, RunTimeout: time.Second})
	result, err := e.Run(context.Background(), StrategyParallelAll,
		Selected{Primary: asTools(slow, succeeding("fast"))}, execContext(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.ToolsFailed) != 1 {
		t.Fatalf("failed = %v", result.ToolsFailed)
	}
	failure := result.ToolsFailed[0]
	if failure.Error == nil || failure.Error.Code != models.ErrCodeTimeout || !failure.Error.Recoverable {
		t.Errorf("timeout failure = %+v, want recoverable TIMEOUT", failure.Error)
	}
	if len(result.ToolsSucceeded) != 1 {
		t.Error("peer tool aborted by a timeout in the same batch")
	}
}

func TestRunPrimaryThenFallbackPromotion(t *testing.T) {
	finding := func(id string) models.Finding {
		return models.Finding{Kind: models.FindingIssue, Severity: models.SeverityMedium, Category: "c", Message: id, File: id}
	}
	sel := Selected{
		Primary: asTools(
			withFinding("p1", finding("p1")),
			failing("p2"), failing("p3"), failing("p4"),
		),
		Fallbacks: asTools(
			withFinding("f1", finding("f1")),
			withFinding("f2", finding("f2")),
		),
	}
	e := testExecutor(t, Config{})
	result, err := e.Run(context.Background(), StrategyPrimaryThenFallback, sel, execContext(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(result.ToolsSucceeded) + len(result.ToolsFailed); got != 6 {
		t.Errorf("attempts = %d, want all 4 primaries and both fallbacks", got)
	}
	if len(result.Findings) != 3 {
		t.Errorf("findings = %d, want surviving primary plus both fallbacks", len(result.Findings))
	}
}

func TestRunPrimaryThenFallbackNoPromotionOnMinorityFailure(t *testing.T) {
	var fallbackRan atomic.Bool
	fb := &stubTool{id: "fb", execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
		fallbackRan.Store(true)
		return &models.ToolResult{Success: true, StartedAt: time.Now()}, nil
	}}
	sel := Selected{
		Primary:   asTools(succeeding("p1"), succeeding("p2"), failing("p3")),
		Fallbacks: asTools(fb),
	}
	e := testExecutor(t, Config{})
	if _, err := e.Run(context.Background(), StrategyPrimaryThenFallback, sel, execContext(), nil); err != nil {
		t.Fatal(err)
	}
	if fallbackRan.Load() {
		t.Error("fallbacks invoked although only a minority of primaries failed")
	}
}

func TestRunSequentialFailFast(t *testing.T) {
	var order []string
	var mu sync.Mutex
	mk := func(id string, fail bool) *stubTool {
		return &stubTool{id: id, execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			if fail {
				return nil, errors.New("boom")
			}
			return &models.ToolResult{Success: true, StartedAt: time.Now()}, nil
		}}
	}
	e := testExecutor(t, Config{FailFast: true})
	result, err := e.Run(context.Background(), StrategySequential,
		Selected{Primary: asTools(mk("a", false), mk("b", true), mk("c", false))}, execContext(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("executed %v, want [a b] then stop", order)
	}
	// The skipped tool still yields a result.
	if got := len(result.ToolsSucceeded) + len(result.ToolsFailed); got != 3 {
		t.Errorf("results = %d, want 3", got)
	}
}

func TestRunCancellation(t *testing.T) {
	started := make(chan struct{})
	slow := &stubTool{id: "slow", execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e := testExecutor(t, Config{Grace: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, err := e.Run(ctx, StrategyParallelAll, Selected{Primary: asTools(slow)}, execContext(), nil)
	if !errors.Is(err, ErrRunCancelled) {
		t.Errorf("expected ErrRunCancelled, got %v", err)
	}
	if result == nil {
		t.Fatal("no partial result surfaced on cancellation")
	}
	if got := len(result.ToolsSucceeded) + len(result.ToolsFailed); got != 1 {
		t.Errorf("results = %d, want 1", got)
	}
}

func TestRunPanicYieldsFailedResult(t *testing.T) {
	panicky := &stubTool{id: "panicky", execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
		panic("nil deref in analyzer")
	}}
	e := testExecutor(t, Config{})
	result, err := e.Run(context.Background(), StrategyParallelAll,
		Selected{Primary: asTools(panicky, succeeding("ok"))}, execContext(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.ToolsFailed) != 1 || result.ToolsFailed[0].ToolID != "panicky" {
		t.Errorf("panic not converted to a failed result: %+v", result.ToolsFailed)
	}
	if len(result.ToolsSucceeded) != 1 {
		t.Error("panic aborted a peer tool")
	}
}

func TestRunReleasesWorkspaces(t *testing.T) {
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	ws, err := workspace.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	e := New(ws, logger, observability.NewMetrics(prometheus.NewRegistry()), Config{})

	sel := Selected{Primary: asTools(
		succeeding("a"),
		failing("b"),
		&stubTool{id: "p", execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
			panic("boom")
		}},
	)}
	if _, err := e.Run(context.Background(), StrategyParallelAll, sel, execContext(), nil); err != nil {
		t.Fatal(err)
	}
	if n := ws.OpenCount(); n != 0 {
		t.Errorf("%d workspaces leaked", n)
	}
}

func TestRunExecutesAgainstWorkspaceCopies(t *testing.T) {
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	root := t.TempDir()
	ws, err := workspace.NewManager(root, logger)
	if err != nil {
		t.Fatal(err)
	}
	e := New(ws, logger, observability.NewMetrics(prometheus.NewRegistry()), Config{})

	var seen *models.AnalysisContext
	spy := &stubTool{id: "spy", execute: func(ctx context.Context, ac *models.AnalysisContext) (*models.ToolResult, error) {
		seen = ac
		path := ac.PR.Files[0].Path
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("materialized file missing: %w", err)
		}
		return &models.ToolResult{Success: true, StartedAt: time.Now(), Findings: []models.Finding{
			{Kind: models.FindingIssue, Severity: models.SeverityLow, Category: "c", Message: "m", File: path},
		}}, nil
	}}

	original := execContext()
	result, err := e.Run(context.Background(), StrategyParallelAll, Selected{Primary: asTools(spy)}, original, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.ToolsFailed) != 0 {
		t.Fatalf("tool failed: %+v", result.ToolsFailed)
	}
	if seen == original {
		t.Fatal("tool received the caller's context instead of a workspace copy")
	}
	if got := seen.PR.Files[0].Path; !strings.HasPrefix(got, root) {
		t.Errorf("tool saw %q, want a path under %q", got, root)
	}
	if original.PR.Files[0].Path != "main.go" {
		t.Errorf("caller's context mutated: %q", original.PR.Files[0].Path)
	}
	if len(result.Findings) != 1 || result.Findings[0].File != "main.go" {
		t.Errorf("findings = %+v, want one against repository-relative main.go", result.Findings)
	}
}

func TestRunProgressOrdering(t *testing.T) {
	var snapshots []Progress
	var mu sync.Mutex
	progress := func(p Progress) {
		mu.Lock()
		snapshots = append(snapshots, p)
		mu.Unlock()
	}

	e := testExecutor(t, Config{MaxConcurrency: 1})
	sel := Selected{Primary: asTools(succeeding("a"), failing("b"))}
	if _, err := e.Run(context.Background(), StrategyParallelAll, sel, execContext(), progress); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) != 4 {
		t.Fatalf("snapshots = %d, want start+finish per tool", len(snapshots))
	}
	final := snapshots[len(snapshots)-1]
	if final.Completed != 1 || final.Failed != 1 || final.InFlight != 0 || final.Total != 2 {
		t.Errorf("final snapshot = %+v", final)
	}
	for _, p := range snapshots {
		if p.InFlight > 1 {
			t.Errorf("snapshot in-flight %d exceeds concurrency 1", p.InFlight)
		}
	}
}

func TestRunNoTools(t *testing.T) {
	e := testExecutor(t, Config{})
	if _, err := e.Run(context.Background(), StrategyParallelAll, Selected{}, execContext(), nil); !errors.Is(err, ErrNoTools) {
		t.Errorf("expected ErrNoTools, got %v", err)
	}
}
