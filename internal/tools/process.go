package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// CommandProcess runs a hosted-server tool as a child process. Health is
// probed through the tool's HTTP endpoint when a probe is given;
// otherwise only process liveness is checked.
type CommandProcess struct {
	name  string
	args  []string
	env   []string
	probe func(ctx context.Context) error

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// CommandOption configures a CommandProcess.
type CommandOption func(*CommandProcess)

// WithProbe sets the liveness probe, typically the matching ServerTool's
// HealthCheck.
func WithProbe(probe func(ctx context.Context) error) CommandOption {
	return func(p *CommandProcess) {
		p.probe = probe
	}
}

// WithEnv appends environment variables for the child process.
func WithEnv(env ...string) CommandOption {
	return func(p *CommandProcess) {
		p.env = append(p.env, env...)
	}
}

// NewCommandProcess creates a process spec; the process starts on Start.
func NewCommandProcess(name string, args []string, opts ...CommandOption) *CommandProcess {
	p := &CommandProcess{name: name, args: args}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start implements HostedProcess.
func (p *CommandProcess) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil
	}
	cmd := exec.Command(p.name, p.args...)
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.name, err)
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	p.cmd = cmd
	p.done = done
	return nil
}

// Stop implements HostedProcess: interrupt, then kill on deadline.
func (p *CommandProcess) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
	_ = cmd.Process.Kill()
	<-done
	return nil
}

// HealthCheck implements HostedProcess.
func (p *CommandProcess) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return errors.New("process not started")
	}
	select {
	case <-done:
		return errors.New("process exited")
	default:
	}
	if p.probe != nil {
		return p.probe(ctx)
	}
	return nil
}
