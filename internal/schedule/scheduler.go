package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// Trigger fires one scheduled analysis. The scheduler routes every firing
// through the same entry point external requests use; tier is the cadence
// mapping from TierFor.
type Trigger func(ctx context.Context, sched *models.Schedule, tier string) (*models.ConsolidatedResult, error)

// ActivitySource reports recent repository activity for cadence scoring.
// A nil source scores everything zero.
type ActivitySource func(ctx context.Context, sched *models.Schedule) (models.ActivityMetrics, error)

// failuresBeforeRaise is how many consecutive failed runs raise a
// schedule's priority one level.
const failuresBeforeRaise = 3

// Scheduler owns the dispatch loop. Due schedules fire through the
// trigger; runs for one repository never overlap.
type Scheduler struct {
	store    Store
	trigger  Trigger
	activity ActivitySource
	logger   *observability.Logger
	metrics  *observability.Metrics

	now          func() time.Time
	tickInterval time.Duration

	mu       sync.Mutex
	started  bool
	inFlight map[string]bool // repository url -> running
	wg       sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the dispatch tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithActivitySource configures activity scoring for cadence adjustment.
func WithActivitySource(source ActivitySource) Option {
	return func(s *Scheduler) {
		if source != nil {
			s.activity = source
		}
	}
}

// New creates a scheduler over a store and a trigger.
func New(store Store, trigger Trigger, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		trigger:      trigger,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
		tickInterval: time.Minute,
		inFlight:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the dispatch loop until the context is cancelled. Start is
// idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the dispatch loop and in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires all currently due schedules and waits for them. It exists
// for tests and the CLI.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	fired := s.runDue(ctx)
	s.wg.Wait()
	return fired
}

// runDue fires every active schedule whose NextRunAt has passed, skipping
// repositories with a run already in flight.
func (s *Scheduler) runDue(ctx context.Context) int {
	schedules, err := s.store.ListActive(ctx)
	if err != nil {
		// Store down: defer the tick, fire nothing.
		s.logger.Warn(ctx, "schedule store unavailable, deferring tick", "error", err)
		return 0
	}

	now := s.now()
	fired := 0
	for _, sched := range schedules {
		if sched.NextRunAt.IsZero() || sched.NextRunAt.After(now) {
			continue
		}
		s.mu.Lock()
		if s.inFlight[sched.RepositoryURL] {
			s.mu.Unlock()
			continue
		}
		s.inFlight[sched.RepositoryURL] = true
		s.mu.Unlock()

		fired++
		s.wg.Add(1)
		go func(sched *models.Schedule) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inFlight, sched.RepositoryURL)
				s.mu.Unlock()
			}()
			s.fire(ctx, sched)
		}(sched)
	}
	return fired
}

// fire executes one schedule: trigger the analysis, record the run,
// advance the schedule, and adjust cadence and priority.
func (s *Scheduler) fire(ctx context.Context, sched *models.Schedule) {
	runCtx := observability.AddRunID(observability.AddRepository(ctx, sched.RepositoryURL), sched.ID)
	started := s.now()
	tier := TierFor(sched.Cadence)

	result, err := s.trigger(runCtx, sched, tier)

	run := &models.ScheduleRun{
		ScheduleID:  sched.ID,
		StartedAt:   started,
		CompletedAt: s.now(),
	}
	run.DurationMs = run.CompletedAt.Sub(started).Milliseconds()
	switch {
	case err != nil:
		run.Status = models.RunError
		run.Error = err.Error()
	case result == nil || len(result.ToolsSucceeded) == 0:
		run.Status = models.RunFailed
		if result != nil && len(result.ToolsFailed) > 0 {
			run.Error = fmt.Sprintf("all %d tools failed", len(result.ToolsFailed))
		}
	default:
		run.Status = models.RunSuccess
		run.FindingsCount = len(result.Findings)
		run.CriticalCount = result.CriticalCount()
	}

	if recordErr := s.store.RecordRun(runCtx, run); recordErr != nil {
		s.logger.Error(runCtx, "schedule run not recorded", "schedule_id", sched.ID, "error", recordErr)
	}
	if s.metrics != nil {
		s.metrics.ScheduleRuns.WithLabelValues(string(sched.Cadence), string(run.Status)).Inc()
	}

	s.advance(runCtx, sched, run)
}

// advance updates lastRunAt/nextRunAt and applies the failure policy.
// Cadence itself is re-assigned by the analysis completion path behind the
// trigger, so the schedule is re-read before advancing.
func (s *Scheduler) advance(ctx context.Context, sched *models.Schedule, run *models.ScheduleRun) {
	now := s.now()
	if fresh, err := s.store.Get(ctx, sched.ID); err == nil {
		sched = fresh
	}
	sched.LastRunAt = now

	if sched.IsActive && sched.CronExpr != "" {
		if next, err := NextRun(sched.CronExpr, now); err == nil {
			sched.NextRunAt = next
		}
	}

	if run.Status != models.RunSuccess {
		// Failed runs never alter cadence, but persistent failure raises
		// priority for operator attention.
		if failures, err := ConsecutiveFailures(ctx, s.store, sched.ID); err == nil && failures > 0 && failures%failuresBeforeRaise == 0 {
			raised := sched.Priority.Raise()
			if raised != sched.Priority {
				s.logger.Warn(ctx, "raising schedule priority after consecutive failures",
					"schedule_id", sched.ID, "failures", failures, "priority", string(raised))
				sched.Priority = raised
				if sched.Priority == models.PriorityCritical {
					sched.MayBeDisabled = false
				}
			}
		}
	}

	if err := s.store.Update(ctx, sched); err != nil {
		s.logger.Error(ctx, "schedule not advanced", "schedule_id", sched.ID, "error", err)
	}
}

// Activity resolves activity metrics for a schedule through the
// configured source; lookup failures score zero.
func (s *Scheduler) Activity(ctx context.Context, sched *models.Schedule) models.ActivityMetrics {
	if s.activity == nil {
		return models.ActivityMetrics{}
	}
	a, err := s.activity(ctx, sched)
	if err != nil {
		s.logger.Warn(ctx, "activity lookup failed, scoring zero", "schedule_id", sched.ID, "error", err)
		return models.ActivityMetrics{}
	}
	return a
}

// InitializeAutomaticSchedule creates a schedule for a repository after
// its first analysis. It is a no-op when a schedule already exists;
// cadence changes go through UpdateAfterAnalysis.
func (s *Scheduler) InitializeAutomaticSchedule(ctx context.Context, repo *models.Repository, result *models.ConsolidatedResult, activity models.ActivityMetrics) (*models.Schedule, error) {
	if existing, err := s.store.GetByRepositoryURL(ctx, repo.URL); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sched := &models.Schedule{
		RepositoryID:  repo.ID,
		RepositoryURL: repo.URL,
	}
	if err := Assign(repo, result, activity).Apply(sched, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, sched); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.store.GetByRepositoryURL(ctx, repo.URL)
		}
		return nil, err
	}
	s.logger.Info(ctx, "schedule initialized",
		"repository", repo.URL, "cadence", string(sched.Cadence), "priority", string(sched.Priority))
	return sched, nil
}

// UpdateAfterAnalysis re-evaluates cadence for an existing schedule after
// an out-of-band analysis completes.
func (s *Scheduler) UpdateAfterAnalysis(ctx context.Context, repo *models.Repository, result *models.ConsolidatedResult, activity models.ActivityMetrics) (*models.Schedule, error) {
	sched, err := s.store.GetByRepositoryURL(ctx, repo.URL)
	if err != nil {
		return nil, err
	}
	if err := Assign(repo, result, activity).Apply(sched, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Pause deactivates a schedule. Critical schedules cannot be paused.
func (s *Scheduler) Pause(ctx context.Context, repositoryURL string) error {
	sched, err := s.store.GetByRepositoryURL(ctx, repositoryURL)
	if err != nil {
		return err
	}
	if !sched.MayBeDisabled {
		return fmt.Errorf("schedule for %s may not be disabled (%s priority)", repositoryURL, sched.Priority)
	}
	sched.IsActive = false
	sched.NextRunAt = time.Time{}
	return s.store.Update(ctx, sched)
}

// Resume reactivates a paused schedule and recomputes its next firing.
func (s *Scheduler) Resume(ctx context.Context, repositoryURL string) error {
	sched, err := s.store.GetByRepositoryURL(ctx, repositoryURL)
	if err != nil {
		return err
	}
	if sched.Cadence == models.CadenceOnDemand || sched.CronExpr == "" {
		return fmt.Errorf("schedule for %s is on-demand and cannot resume", repositoryURL)
	}
	next, err := NextRun(sched.CronExpr, s.now())
	if err != nil {
		return err
	}
	sched.IsActive = true
	sched.NextRunAt = next
	return s.store.Update(ctx, sched)
}
