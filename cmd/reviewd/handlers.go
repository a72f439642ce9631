// handlers.go contains the command implementations: service assembly,
// the serve loop, and the operator subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/reviewd/internal/analyzer"
	"github.com/haasonsaas/reviewd/internal/cache"
	"github.com/haasonsaas/reviewd/internal/config"
	"github.com/haasonsaas/reviewd/internal/executor"
	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/internal/schedule"
	"github.com/haasonsaas/reviewd/internal/storage"
	"github.com/haasonsaas/reviewd/internal/tools"
	"github.com/haasonsaas/reviewd/internal/webhook"
	"github.com/haasonsaas/reviewd/internal/workspace"
	"github.com/haasonsaas/reviewd/pkg/models"
)

// service is the assembled application: every command builds one and
// tears it down when finished.
type service struct {
	cfg       *config.Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	manager   *tools.Manager
	handler   *webhook.Handler
	scheduler *schedule.Scheduler
	schedules schedule.Store

	closers       []func() error
	shutdownTrace func(context.Context) error
}

func newService(ctx context.Context, configPath string, debug bool) (*service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Log.Format,
	})
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	tracer, shutdownTrace := observability.NewTracer(observability.TraceConfig{
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	s := &service{cfg: cfg, logger: logger, metrics: metrics, shutdownTrace: shutdownTrace}

	cacheStore, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, cacheStore.Close)

	repoSet, err := openRepositories(cfg)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.closers = append(s.closers, repoSet.Close)

	schedules, err := openSchedules(cfg)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.schedules = schedules
	s.closers = append(s.closers, schedules.Close)

	workspaces, err := workspace.NewManager(cfg.Workspaces.Dir, logger, workspace.WithLimits(workspaceLimits(cfg)))
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	registry := tools.NewRegistry()
	selector := tools.NewSelector(registry)
	s.manager = tools.NewManager(logger)
	if err := registerTools(ctx, cfg, logger, registry, selector, s.manager); err != nil {
		s.close(ctx)
		return nil, err
	}

	exec := executor.New(workspaces, logger, metrics, executor.Config{
		MaxConcurrency: cfg.Executor.MaxConcurrency,
		PerToolTimeout: cfg.Executor.PerToolTimeout,
		RunTimeout:     cfg.Executor.RunTimeout,
	})
	tiers := analyzer.New(exec, cacheStore, registry, selector, logger, metrics,
		analyzer.WithTTL(cfg.Cache.TTL))

	s.handler = webhook.NewHandler(tiers, repoSet.Repositories, schedules, logger, metrics, cfg.Server.WebhookSecret)
	s.handler.AttachTracer(tracer)
	s.scheduler = schedule.New(schedules, s.handler.Trigger, logger, metrics,
		schedule.WithTickInterval(cfg.Scheduler.TickInterval))
	s.handler.AttachScheduler(s.scheduler)
	return s, nil
}

func (s *service) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn(ctx, "store close failed", "error", err)
		}
	}
	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Warn(ctx, "tracer shutdown failed", "error", err)
		}
	}
}

func openCache(cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.Path == "" {
		return cache.NewMemoryStore(), nil
	}
	return cache.NewSQLiteStore(cfg.Cache.Path)
}

func openRepositories(cfg *config.Config) (storage.StoreSet, error) {
	if cfg.Storage.Path == "" {
		return storage.NewStoreSet(storage.NewMemoryRepositoryStore(), nil), nil
	}
	return storage.NewSQLiteStores(cfg.Storage.Path)
}

func openSchedules(cfg *config.Config) (schedule.Store, error) {
	if cfg.Storage.Path == "" {
		return schedule.NewMemoryStore(), nil
	}
	return schedule.NewSQLiteStore(cfg.Storage.Path)
}

func workspaceLimits(cfg *config.Config) workspace.Limits {
	limits := workspace.DefaultLimits()
	if cfg.Workspaces.MaxDiskBytes > 0 {
		limits.MaxTotalBytes = cfg.Workspaces.MaxDiskBytes
	}
	if cfg.Workspaces.Timeout > 0 {
		limits.Timeout = cfg.Workspaces.Timeout
	}
	return limits
}

// registerTools wires the in-process tools plus every configured hosted
// tool, derives the selector's default rows, and verifies every role keeps
// a fallback.
func registerTools(ctx context.Context, cfg *config.Config, logger *observability.Logger, registry *tools.Registry, selector *tools.Selector, manager *tools.Manager) error {
	var universal []string

	for _, tool := range []tools.Tool{tools.NewDiffScan(), tools.NewSecretScan()} {
		id := tool.Descriptor().ID
		if cfg.ToolEnabled(id) {
			registry.Register(tool)
			universal = append(universal, id)
		}
	}

	for _, hosted := range cfg.Tools.Hosted {
		if !cfg.ToolEnabled(hosted.ID) {
			logger.Info(ctx, "hosted tool disabled by flag", "tool_id", hosted.ID)
			continue
		}
		desc := models.ToolDescriptor{
			ID:                 hosted.ID,
			SupportedRoles:     parseRoles(hosted.Roles),
			SupportedLanguages: hosted.Languages,
		}
		st := tools.NewServerTool(desc, hosted.URL)
		registry.Register(st)
		if len(hosted.Command) > 0 {
			manager.Add(hosted.ID, tools.NewCommandProcess(hosted.Command[0], hosted.Command[1:],
				tools.WithProbe(st.HealthCheck)))
		}

		// Hosted tools lead for their declared roles; diffscan backs them up.
		sel := tools.Selection{Primary: []string{hosted.ID}}
		if len(universal) > 0 {
			sel.Fallbacks = universal
		}
		for _, role := range desc.SupportedRoles {
			if err := selector.Configure(tools.SelectionKey{Role: role}, sel); err != nil {
				return fmt.Errorf("configure selector for %s: %w", hosted.ID, err)
			}
		}
	}

	if len(universal) > 0 {
		if err := selector.Configure(tools.SelectionKey{}, tools.Selection{Primary: universal}); err != nil {
			return fmt.Errorf("configure universal selection: %w", err)
		}
	}
	if err := registry.VerifyRoleCoverage(models.Roles()...); err != nil {
		return fmt.Errorf("tool registration leaves a role without a fallback: %w", err)
	}
	return nil
}

func parseRoles(names []string) []models.AgentRole {
	if len(names) == 0 {
		return []models.AgentRole{models.RoleCodeQuality}
	}
	roles := make([]models.AgentRole, 0, len(names))
	for _, name := range names {
		roles = append(roles, models.AgentRole(name))
	}
	return roles
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newService(ctx, configPath, debug)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("start hosted tools: %w", err)
	}
	if s.cfg.Scheduler.Enabled {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	server := webhook.NewServer(s.cfg.Server.ListenAddr, s.handler, prometheus.DefaultGatherer, s.logger)
	errCh, err := server.Start(ctx)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "http shutdown incomplete", "error", err)
	}
	if err := s.scheduler.Stop(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "scheduler drain incomplete", "error", err)
	}
	if err := s.manager.Stop(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "hosted tool stop incomplete", "error", err)
	}
	return nil
}

func runScan(ctx context.Context, configPath, repoURL, tierName string, perspectiveNames []string) error {
	s, err := newService(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	tier := analyzer.Tier(tierName)
	switch tier {
	case analyzer.TierQuick, analyzer.TierComprehensive, analyzer.TierTargeted:
	default:
		return fmt.Errorf("unknown tier %q (want quick, comprehensive, or targeted)", tierName)
	}
	var perspectives []models.AgentRole
	for _, name := range perspectiveNames {
		perspectives = append(perspectives, models.AgentRole(name))
	}

	report, err := s.handler.Scan(ctx, &models.Repository{URL: repoURL}, tier, perspectives, models.UserContext{})
	if report == nil {
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Warning: partial result:", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runScheduleList(ctx context.Context, configPath string) error {
	s, err := newService(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	schedules, err := s.schedules.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tCADENCE\tPRIORITY\tACTIVE\tNEXT RUN\tREASON")
	for _, sched := range schedules {
		next := "-"
		if !sched.NextRunAt.IsZero() {
			next = sched.NextRunAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			sched.RepositoryURL, sched.Cadence, sched.Priority, sched.IsActive, next, sched.Reason)
	}
	return w.Flush()
}

func runScheduleRun(ctx context.Context, configPath string) error {
	s, err := newService(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	fired := s.scheduler.RunOnce(ctx)
	fmt.Printf("fired %d schedule(s)\n", fired)
	return nil
}

func runSchedulePause(ctx context.Context, configPath, repoURL string) error {
	s, err := newService(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	if err := s.scheduler.Pause(ctx, repoURL); err != nil {
		return err
	}
	fmt.Printf("paused schedule for %s\n", repoURL)
	return nil
}

func runScheduleResume(ctx context.Context, configPath, repoURL string) error {
	s, err := newService(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	if err := s.scheduler.Resume(ctx, repoURL); err != nil {
		return err
	}
	fmt.Printf("resumed schedule for %s\n", repoURL)
	return nil
}
