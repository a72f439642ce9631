package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expanding ${VAR} references from the
// environment, applies defaults for unset fields, then applies environment
// variable overrides. An empty path loads defaults and overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps the documented environment keys onto the config.
// ENABLE_<TOOLID> flags toggle individual tools; the tool id is lowercased.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("MAX_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Executor.MaxConcurrency = n
		}
	}
	if v, ok := lookup("PER_TOOL_TIMEOUT_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Executor.PerToolTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := lookup("RUN_TIMEOUT_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Executor.RunTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := lookup("CACHE_TTL_SEC"); ok {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.Cache.TTL = time.Duration(sec) * time.Second
		}
	}
	if v, ok := lookup("WORKSPACES_DIR"); ok && strings.TrimSpace(v) != "" {
		cfg.Workspaces.Dir = v
	}
	if v, ok := lookup("WORKSPACE_TIMEOUT_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Workspaces.Timeout = time.Duration(ms) * time.Millisecond
		}
	}

	for _, env := range os.Environ() {
		key, value, found := strings.Cut(env, "=")
		if !found || !strings.HasPrefix(key, "ENABLE_") {
			continue
		}
		toolID := strings.ToLower(strings.TrimPrefix(key, "ENABLE_"))
		if toolID == "" {
			continue
		}
		if enabled, err := strconv.ParseBool(value); err == nil {
			if cfg.Tools.Enabled == nil {
				cfg.Tools.Enabled = map[string]bool{}
			}
			cfg.Tools.Enabled[toolID] = enabled
		}
	}
}
