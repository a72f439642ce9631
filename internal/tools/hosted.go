package tools

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/reviewd/internal/backoff"
	"github.com/haasonsaas/reviewd/internal/observability"
)

// HostedProcess is the lifecycle surface of a hosted-server tool. The
// manager owns one process per tool id for the whole service lifetime.
type HostedProcess interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// Manager supervises hosted-server tool processes. Each process is a
// process-wide singleton; on a failed health check it is restarted after
// a 5s backoff.
type Manager struct {
	logger        *observability.Logger
	probeInterval time.Duration
	restartPolicy backoff.Policy

	mu           sync.Mutex
	processes    map[string]HostedProcess
	superviseCtx context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// ManagerOption configures the hosted-tool manager.
type ManagerOption func(*Manager)

// WithProbeInterval overrides the health probe interval.
func WithProbeInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.probeInterval = interval
		}
	}
}

// WithRestartPolicy overrides the restart backoff policy.
func WithRestartPolicy(policy backoff.Policy) ManagerOption {
	return func(m *Manager) {
		m.restartPolicy = policy
	}
}

// NewManager creates a hosted-tool manager.
func NewManager(logger *observability.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:        logger,
		probeInterval: 10 * time.Second,
		restartPolicy: backoff.RestartPolicy(),
		processes:     make(map[string]HostedProcess),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers a hosted process under a tool id. Adding after Start
// begins supervision immediately; duplicate ids are ignored.
func (m *Manager) Add(id string, proc HostedProcess) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.processes[id]; exists {
		return
	}
	m.processes[id] = proc
	if m.superviseCtx != nil {
		m.wg.Add(1)
		go m.supervise(m.superviseCtx, id, proc)
	}
}

// Start launches every registered process and begins health supervision.
// Start is idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.superviseCtx != nil {
		return nil
	}
	m.superviseCtx, m.cancel = context.WithCancel(context.Background())
	for id, proc := range m.processes {
		if err := proc.Start(ctx); err != nil {
			m.logger.Warn(ctx, "hosted tool failed to start", "tool_id", id, "error", err)
		}
		m.wg.Add(1)
		go m.supervise(m.superviseCtx, id, proc)
	}
	return nil
}

func (m *Manager) supervise(ctx context.Context, id string, proc HostedProcess) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := proc.HealthCheck(probeCtx)
		cancel()
		if err == nil {
			attempt = 0
			continue
		}

		attempt++
		m.logger.Warn(ctx, "hosted tool unhealthy, restarting", "tool_id", id, "error", err, "attempt", attempt)
		if err := backoff.Sleep(ctx, m.restartPolicy, attempt); err != nil {
			return
		}
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = proc.Stop(stopCtx)
		cancel()
		if err := proc.Start(ctx); err != nil {
			m.logger.Error(ctx, "hosted tool restart failed", "tool_id", id, "error", err)
			continue
		}
		m.logger.Info(ctx, "hosted tool restarted", "tool_id", id)
	}
}

// Stop halts supervision and stops every process.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.superviseCtx == nil {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.superviseCtx = nil
	m.cancel = nil
	processes := make(map[string]HostedProcess, len(m.processes))
	for id, proc := range m.processes {
		processes[id] = proc
	}
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	for id, proc := range processes {
		if err := proc.Stop(ctx); err != nil {
			m.logger.Warn(ctx, "hosted tool stop failed", "tool_id", id, "error", err)
		}
	}
	return nil
}
