// Package analyzer exposes the three analysis tiers. All tiers share one
// executor and one cache; they differ in scope, tool selection, and cache
// policy.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/reviewd/internal/cache"
	"github.com/haasonsaas/reviewd/internal/consolidate"
	"github.com/haasonsaas/reviewd/internal/executor"
	"github.com/haasonsaas/reviewd/internal/language"
	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/internal/tools"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// Tier names an analysis pipeline.
type Tier string

const (
	TierQuick         Tier = "quick"
	TierComprehensive Tier = "comprehensive"
	TierTargeted      Tier = "targeted"
)

// comprehensiveKey is the cache analyzer key for whole-repository runs.
const comprehensiveKey = "comprehensive"

// targetedKeyPrefix namespaces per-perspective cache rows.
const targetedKeyPrefix = "targeted:"

// AllPerspectives is the full targeted perspective set in execution order.
var AllPerspectives = []models.AgentRole{
	models.RoleArchitecture,
	models.RoleCodeQuality,
	models.RoleSecurity,
	models.RoleDependencies,
	models.RolePatterns,
}

// Report is the output of one tier run.
type Report struct {
	Tier         Tier                         `json:"tier"`
	RepositoryID string                       `json:"repository_id"`
	Result       *models.ConsolidatedResult   `json:"result"`
	Score        float64                      `json:"score"`
	Distribution []consolidate.SeverityCount  `json:"distribution,omitempty"`
	Perspectives map[models.AgentRole]*models.ConsolidatedResult `json:"perspectives,omitempty"`
	FromCache    bool                         `json:"from_cache,omitempty"`
	DurationMs   int64                        `json:"duration_ms"`
}

// Analyzer runs the tiers. Construct once and share across triggers.
type Analyzer struct {
	executor *executor.Executor
	cache    cache.Store
	registry *tools.Registry
	selector *tools.Selector
	logger   *observability.Logger
	metrics  *observability.Metrics
	ttl      time.Duration
	now      func() time.Time
}

// Option configures the analyzer.
type Option func(*Analyzer)

// WithTTL overrides the cache TTL for stored tier results.
func WithTTL(ttl time.Duration) Option {
	return func(a *Analyzer) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithNow injects a clock for tests.
func WithNow(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an analyzer over shared primitives.
func New(exec *executor.Executor, store cache.Store, registry *tools.Registry, selector *tools.Selector, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Analyzer {
	a := &Analyzer{
		executor: exec,
		cache:    store,
		registry: registry,
		selector: selector,
		logger:   logger,
		metrics:  metrics,
		ttl:      cache.DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Quick analyzes only the PR diff with a minimal tool set chosen for the
// languages present in it. Quick results are not cached: they are specific
// to one PR state.
func (a *Analyzer) Quick(ctx context.Context, ac *models.AnalysisContext, progress executor.ProgressFunc) (*Report, error) {
	started := a.now()
	if ac.PR != nil {
		language.AnnotateFiles(ac.PR.Files)
	}

	compatible := a.registry.Compatible(ac)
	if len(compatible) == 0 {
		return nil, fmt.Errorf("quick tier: %w", executor.ErrNoTools)
	}

	result, runErr := a.executor.Run(ctx, executor.StrategyParallelAll,
		executor.Selected{Primary: compatible}, ac, progress)
	if result == nil {
		return nil, runErr
	}

	report := a.report(TierQuick, ac, result, started)
	a.observeRun(TierQuick, started)
	return report, runErr
}

// Comprehensive analyzes the whole repository plus the PR. A valid cached
// comprehensive record is reused; otherwise the run is computed and stored
// with the configured TTL. Cache writes happen only on clean completion.
func (a *Analyzer) Comprehensive(ctx context.Context, ac *models.AnalysisContext, progress executor.ProgressFunc) (*Report, error) {
	started := a.now()

	if cached := a.lookup(ctx, ac, comprehensiveKey); cached != nil {
		cached.Tier = TierComprehensive
		a.observeRun(TierComprehensive, started)
		return cached, nil
	}

	sel, err := a.selected(ac)
	if err != nil {
		return nil, fmt.Errorf("comprehensive tier: %w", err)
	}
	result, runErr := a.executor.Run(ctx, executor.StrategyPrimaryThenFallback, sel, ac, progress)
	if result == nil {
		return nil, runErr
	}

	report := a.report(TierComprehensive, ac, result, started)
	if runErr == nil {
		a.store(ctx, ac, comprehensiveKey, report)
	}
	a.observeRun(TierComprehensive, started)
	return report, runErr
}

// Targeted analyzes the named perspectives, each against its own cache
// key, and composes the cached and fresh parts into one report. An empty
// perspective list means all perspectives.
func (a *Analyzer) Targeted(ctx context.Context, ac *models.AnalysisContext, perspectives []models.AgentRole, progress executor.ProgressFunc) (*Report, error) {
	started := a.now()
	if len(perspectives) == 0 {
		perspectives = AllPerspectives
	}

	parts := make(map[models.AgentRole]*models.ConsolidatedResult, len(perspectives))
	var firstErr error
	for _, role := range perspectives {
		key := targetedKeyPrefix + string(role)
		roleCtx := withRole(ac, role)

		if cached := a.lookup(ctx, roleCtx, key); cached != nil {
			parts[role] = cached.Result
			continue
		}

		sel, err := a.selected(roleCtx)
		if err != nil {
			// A perspective with no configuration aborts the run: the
			// caller asked for it by name.
			return nil, fmt.Errorf("targeted tier %s: %w", role, err)
		}
		result, runErr := a.executor.Run(ctx, executor.StrategyPrimaryThenFallback, sel, roleCtx, progress)
		if result == nil {
			return nil, runErr
		}
		parts[role] = result
		if runErr != nil {
			if firstErr == nil {
				firstErr = runErr
			}
			continue
		}
		a.store(ctx, roleCtx, key, a.report(TierTargeted, roleCtx, result, started))
	}

	ordered := make([]*models.ConsolidatedResult, 0, len(perspectives))
	for _, role := range perspectives {
		ordered = append(ordered, parts[role])
	}
	report := a.report(TierTargeted, ac, consolidate.Combine(ordered...), started)
	report.Perspectives = parts
	a.observeRun(TierTargeted, started)
	return report, firstErr
}

// selected resolves the tool sets for a context via the selector.
func (a *Analyzer) selected(ac *models.AnalysisContext) (executor.Selected, error) {
	sel, err := a.selector.Resolve(ac)
	if err != nil {
		return executor.Selected{}, err
	}
	primary, fallbacks := a.selector.Tools(sel)
	return executor.Selected{Primary: primary, Fallbacks: fallbacks}, nil
}

// lookup returns a cached report when a valid row exists. Cache failures
// degrade to a miss: the run proceeds and the error is logged.
func (a *Analyzer) lookup(ctx context.Context, ac *models.AnalysisContext, key string) *Report {
	if a.cache == nil || ac.Repository == nil {
		return nil
	}
	record, err := a.cache.GetValid(ctx, ac.Repository.ID, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			a.logger.Warn(ctx, "cache read failed, proceeding without cache", "analyzer", key, "error", err)
			a.observeCache(key, "stale")
			return nil
		}
		a.observeCache(key, "miss")
		return nil
	}

	var report Report
	if err := json.Unmarshal(record.AnalysisData, &report); err != nil {
		a.logger.Warn(ctx, "cached analysis unreadable, recomputing", "analyzer", key, "error", err)
		a.observeCache(key, "stale")
		return nil
	}
	report.FromCache = true
	a.observeCache(key, "hit")
	return &report
}

// store persists a completed report. Failures are logged, never fatal.
func (a *Analyzer) store(ctx context.Context, ac *models.AnalysisContext, key string, report *Report) {
	if a.cache == nil || ac.Repository == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		a.logger.Error(ctx, "marshal analysis report", "analyzer", key, "error", err)
		return
	}
	metadata := map[string]any{
		"tier":  string(report.Tier),
		"score": report.Score,
	}
	if _, err := a.cache.Put(ctx, ac.Repository.ID, key, data, a.ttl, metadata); err != nil {
		a.logger.Warn(ctx, "cache write failed", "analyzer", key, "error", err)
	}
}

func (a *Analyzer) report(tier Tier, ac *models.AnalysisContext, result *models.ConsolidatedResult, started time.Time) *Report {
	report := &Report{
		Tier:         tier,
		Result:       result,
		Score:        consolidate.Score(result),
		Distribution: consolidate.Distribution(result),
		DurationMs:   a.now().Sub(started).Milliseconds(),
	}
	if ac.Repository != nil {
		report.RepositoryID = ac.Repository.ID
	}
	if a.metrics != nil {
		for _, f := range result.Findings {
			a.metrics.Findings.WithLabelValues(string(f.Severity), f.Category).Inc()
		}
	}
	return report
}

func (a *Analyzer) observeRun(tier Tier, started time.Time) {
	if a.metrics != nil {
		a.metrics.RunDuration.WithLabelValues(string(tier)).Observe(a.now().Sub(started).Seconds())
	}
}

func (a *Analyzer) observeCache(analyzer, outcome string) {
	if a.metrics != nil {
		a.metrics.CacheRequests.WithLabelValues(analyzer, outcome).Inc()
	}
}

// withRole copies the context with a different role; the underlying PR and
// repository are shared, matching single-run ownership.
func withRole(ac *models.AnalysisContext, role models.AgentRole) *models.AnalysisContext {
	clone := *ac
	clone.Role = role
	return &clone
}
