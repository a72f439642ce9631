// Package executor dispatches selected tools against an analysis context
// and fuses their outputs. Concurrency is semaphore-bounded, every tool
// attempt is governed by its own deadline, and every attempt yields
// exactly one result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/reviewd/internal/consolidate"
	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/internal/tools"
	"github.com/haasonsaas/reviewd/internal/workspace"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// Strategy selects how a batch of tools is dispatched.
type Strategy string

const (
	// StrategyParallelAll runs primary and fallback tools together.
	StrategyParallelAll Strategy = "parallel_all"

	// StrategyPrimaryThenFallback runs the primary set first and invokes
	// the fallback set only when more than half the primaries fail.
	StrategyPrimaryThenFallback Strategy = "primary_then_fallback"

	// StrategySequential runs tools one at a time in order.
	StrategySequential Strategy = "sequential"
)

// ErrNoTools is returned when the selection resolves to an empty tool set.
var ErrNoTools = errors.New("no tools selected for execution")

// ErrRunCancelled marks a run stopped by external cancellation. The
// partial consolidated result is still returned alongside it.
var ErrRunCancelled = errors.New("run cancelled")

// Config bounds execution behavior. Zero fields take defaults.
type Config struct {
	// MaxConcurrency caps tools in flight at once. Default: 10.
	MaxConcurrency int

	// PerToolTimeout bounds each individual tool attempt. Default: 30s.
	PerToolTimeout time.Duration

	// RunTimeout bounds the whole batch. Default: 60s.
	RunTimeout time.Duration

	// Grace is how long a cancelled in-flight tool may still surface its
	// result before being abandoned. Capped at PerToolTimeout. Default: 2s.
	Grace time.Duration

	// FailFast stops a sequential batch after the first failure.
	FailFast bool
}

// DefaultConfig returns the standard execution bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		PerToolTimeout: 30 * time.Second,
		RunTimeout:     60 * time.Second,
		Grace:          2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = d.PerToolTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = d.RunTimeout
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	if c.Grace > c.PerToolTimeout {
		c.Grace = c.PerToolTimeout
	}
	return c
}

// Selected carries the resolved tool sets for one run.
type Selected struct {
	Primary   []tools.Tool
	Fallbacks []tools.Tool
}

func (s Selected) all() []tools.Tool {
	out := make([]tools.Tool, 0, len(s.Primary)+len(s.Fallbacks))
	out = append(out, s.Primary...)
	out = append(out, s.Fallbacks...)
	return out
}

// Progress is a snapshot of batch state, delivered after each change.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
}

// ProgressFunc receives progress snapshots. Callbacks for one tool are
// serialized: its start snapshot precedes its finish snapshot.
type ProgressFunc func(Progress)

// Executor runs tool batches. Construct once per process and share.
type Executor struct {
	workspaces *workspace.Manager
	logger     *observability.Logger
	metrics    *observability.Metrics
	config     Config
}

// New creates an executor. Zero config fields take defaults.
func New(workspaces *workspace.Manager, logger *observability.Logger, metrics *observability.Metrics, config Config) *Executor {
	return &Executor{
		workspaces: workspaces,
		logger:     logger,
		metrics:    metrics,
		config:     config.withDefaults(),
	}
}

// Run dispatches the selected tools under the given strategy and returns
// the consolidated result. A partial result is returned together with
// ErrRunCancelled when the context is cancelled mid-batch; per-tool
// failures never abort the run.
func (e *Executor) Run(ctx context.Context, strategy Strategy, sel Selected, ac *models.AnalysisContext, progress ProgressFunc) (*models.ConsolidatedResult, error) {
	if len(sel.Primary)+len(sel.Fallbacks) == 0 {
		return nil, ErrNoTools
	}
	if err := ac.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis context: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancel()

	var results []models.ToolResult
	switch strategy {
	case StrategyPrimaryThenFallback:
		tracker := newTracker(len(sel.Primary), progress)
		results = e.runBatch(runCtx, sel.Primary, ac, tracker)
		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		if failed*2 > len(sel.Primary) && len(sel.Fallbacks) > 0 {
			e.logger.Info(runCtx, "primary majority failed, invoking fallbacks",
				"failed", failed, "primary", len(sel.Primary), "fallbacks", len(sel.Fallbacks))
			tracker.addTotal(len(sel.Fallbacks))
			results = append(results, e.runBatch(runCtx, sel.Fallbacks, ac, tracker)...)
		}
	case StrategySequential:
		results = e.runSequential(runCtx, sel.all(), ac, newTracker(len(sel.all()), progress))
	default:
		results = e.runBatch(runCtx, sel.all(), ac, newTracker(len(sel.all()), progress))
	}

	consolidated := consolidate.Merge(results)
	if err := ctx.Err(); err != nil {
		return consolidated, fmt.Errorf("%w: %v", ErrRunCancelled, err)
	}
	return consolidated, nil
}

// runBatch executes tools concurrently under the semaphore bound. Results
// keep input order.
func (e *Executor) runBatch(ctx context.Context, batch []tools.Tool, ac *models.AnalysisContext, tracker *progressTracker) []models.ToolResult {
	results := make([]models.ToolResult, len(batch))
	sem := make(chan struct{}, e.config.MaxConcurrency)
	done := make(chan int, len(batch))

	for i, tool := range batch {
		go func(idx int, tool tools.Tool) {
			defer func() { done <- idx }()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = failedResult(tool.Descriptor().ID, models.ErrCodeCancelled,
					"cancelled before execution", false, time.Now())
				tracker.finish(true)
				return
			}

			tracker.start()
			results[idx] = e.executeOne(ctx, tool, ac)
			tracker.finish(!results[idx].Success)
		}(i, tool)
	}

	for range batch {
		<-done
	}
	return results
}

// runSequential executes tools one at a time. With FailFast set, tools
// after the first failure are recorded as cancelled rather than attempted.
func (e *Executor) runSequential(ctx context.Context, batch []tools.Tool, ac *models.AnalysisContext, tracker *progressTracker) []models.ToolResult {
	results := make([]models.ToolResult, len(batch))
	stopped := false
	for i, tool := range batch {
		if stopped || ctx.Err() != nil {
			results[i] = failedResult(tool.Descriptor().ID, models.ErrCodeCancelled,
				"skipped: batch stopped", false, time.Now())
			tracker.finish(true)
			continue
		}
		tracker.start()
		results[i] = e.executeOne(ctx, tool, ac)
		tracker.finish(!results[i].Success)
		if e.config.FailFast && !results[i].Success {
			stopped = true
		}
	}
	return results
}

// executeOne runs a single tool attempt: prepare a workspace, execute the
// tool against a context rewritten into it, and normalize the outcome into
// exactly one ToolResult. The workspace is released on every exit path.
func (e *Executor) executeOne(ctx context.Context, tool tools.Tool, ac *models.AnalysisContext) models.ToolResult {
	id := tool.Descriptor().ID
	started := time.Now()

	ws, err := e.workspaces.Prepare(ctx, ac)
	if err != nil {
		e.record(id, "error", started)
		return failedResult(id, models.ErrCodeInternal,
			fmt.Sprintf("workspace: %v", err), false, started)
	}
	defer ws.Release()

	// The tool only ever sees the isolated copies, never the caller's
	// paths.
	ac = ws.Rewrite(ac)

	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	type outcome struct {
		result *models.ToolResult
		err    error
	}
	resultChan := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := tool.Execute(toolCtx, ac)
		resultChan <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-resultChan:
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			e.record(id, "timeout", started)
			return failedResult(id, models.ErrCodeTimeout,
				fmt.Sprintf("execution exceeded %v", e.config.PerToolTimeout), true, started)
		}
		// External cancellation: give the tool a grace window to surface
		// whatever it has before abandoning it.
		select {
		case out = <-resultChan:
		case <-time.After(e.config.Grace):
			e.record(id, "cancelled", started)
			return failedResult(id, models.ErrCodeCancelled, "run cancelled", false, started)
		}
	}

	if out.err != nil {
		e.logger.Warn(ctx, "tool execution failed", "tool_id", id, "error", out.err)
		e.record(id, "error", started)
		return failedResult(id, models.ErrCodeInternal, out.err.Error(), false, started)
	}
	if out.result == nil {
		e.record(id, "error", started)
		return failedResult(id, models.ErrCodeMalformed, "tool returned no result", false, started)
	}

	result := *out.result
	result.ToolID = id
	// Findings reported against workspace copies are mapped back to
	// repository-relative paths so they deduplicate across tools.
	for i := range result.Findings {
		result.Findings[i].File = ws.Relativize(result.Findings[i].File)
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(started).Milliseconds()
	}
	if result.Success {
		e.record(id, "success", started)
	} else {
		e.record(id, "error", started)
		if result.Error == nil {
			result.Error = &models.ToolError{Code: models.ErrCodeInternal, Message: "tool reported failure"}
		}
	}
	return result
}

func (e *Executor) record(toolID, status string, started time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutions.WithLabelValues(toolID, status).Inc()
	e.metrics.ToolDuration.WithLabelValues(toolID).Observe(time.Since(started).Seconds())
}

func failedResult(toolID, code, message string, recoverable bool, started time.Time) models.ToolResult {
	return models.ToolResult{
		ToolID:     toolID,
		Success:    false,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
		Error: &models.ToolError{
			Code:        code,
			Message:     message,
			Recoverable: recoverable,
		},
	}
}
