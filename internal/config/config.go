// Package config loads and validates the orchestrator configuration from
// YAML with environment expansion and environment-variable overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the reviewd service.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Executor   ExecutorConfig  `yaml:"executor"`
	Cache      CacheConfig     `yaml:"cache"`
	Workspaces WorkspaceConfig `yaml:"workspaces"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Storage    StorageConfig   `yaml:"storage"`
	Log        LogConfig       `yaml:"log"`
	Tracing    TracingConfig   `yaml:"tracing"`
	Tools      ToolsConfig     `yaml:"tools"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	// ListenAddr is the host:port the webhook server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// WebhookSecret validates inbound webhook signatures when set.
	WebhookSecret string `yaml:"webhook_secret"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ExecutorConfig bounds tool execution.
type ExecutorConfig struct {
	// MaxConcurrency caps in-flight tools per run.
	MaxConcurrency int `yaml:"max_concurrency"`

	// PerToolTimeout cancels a single tool attempt.
	PerToolTimeout time.Duration `yaml:"per_tool_timeout"`

	// RunTimeout bounds a whole run.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// CacheConfig configures the analysis cache.
type CacheConfig struct {
	// TTL is the default validity window for cached analyses.
	TTL time.Duration `yaml:"ttl"`

	// Path is the sqlite database file; empty selects the in-memory store.
	Path string `yaml:"path"`
}

// WorkspaceConfig configures per-execution scratch workspaces.
type WorkspaceConfig struct {
	// Dir is the root under which workspaces are materialized.
	Dir string `yaml:"dir"`

	// Timeout bounds workspace materialization.
	Timeout time.Duration `yaml:"timeout"`

	// MaxDiskBytes caps the bytes written into one workspace (0 = unlimited).
	MaxDiskBytes int64 `yaml:"max_disk_bytes"`
}

// SchedulerConfig configures the dispatch loop.
type SchedulerConfig struct {
	// Enabled turns the dispatch loop on.
	Enabled bool `yaml:"enabled"`

	// TickInterval is how often due schedules are checked.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// StorageConfig configures persistent stores.
type StorageConfig struct {
	// Path is the sqlite database file for repositories, schedules, and
	// run history; empty selects in-memory stores.
	Path string `yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ToolsConfig holds per-tool enablement flags keyed by tool id, plus
// hosted-server tool definitions.
type ToolsConfig struct {
	Enabled map[string]bool    `yaml:"enabled"`
	Hosted  []HostedToolConfig `yaml:"hosted"`
}

// HostedToolConfig declares an external analyzer process. When Command is
// set the service spawns and supervises it; otherwise the tool is assumed
// to be already running at URL.
type HostedToolConfig struct {
	ID        string   `yaml:"id"`
	URL       string   `yaml:"url"`
	Command   []string `yaml:"command"`
	Roles     []string `yaml:"roles"`
	Languages []string `yaml:"languages"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Executor: ExecutorConfig{
			MaxConcurrency: 10,
			PerToolTimeout: 30 * time.Second,
			RunTimeout:     60 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Workspaces: WorkspaceConfig{
			Dir:     "", // os.TempDir at runtime
			Timeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
		Tools: ToolsConfig{Enabled: map[string]bool{}},
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Executor.MaxConcurrency <= 0 {
		return fmt.Errorf("executor.max_concurrency must be positive")
	}
	if c.Executor.PerToolTimeout <= 0 {
		return fmt.Errorf("executor.per_tool_timeout must be positive")
	}
	if c.Executor.RunTimeout < c.Executor.PerToolTimeout {
		return fmt.Errorf("executor.run_timeout must be at least per_tool_timeout")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	for i, hosted := range c.Tools.Hosted {
		if hosted.ID == "" || hosted.URL == "" {
			return fmt.Errorf("tools.hosted[%d] requires id and url", i)
		}
	}
	return nil
}

// ToolEnabled reports whether a tool id is enabled. Tools are enabled by
// default; a flag only disables or re-enables explicitly.
func (c *Config) ToolEnabled(id string) bool {
	if v, ok := c.Tools.Enabled[id]; ok {
		return v
	}
	return true
}
