package main

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/reviewd/internal/config"
	"github.com/haasonsaas/reviewd/internal/observability"
	"github.com/haasonsaas/reviewd/internal/tools"
	"github.com/haasonsaas/reviewd/internal/workspace"
)

func TestWorkspaceLimitsOverrides(t *testing.T) {
	cfg := config.Default()
	if got := workspaceLimits(cfg); got != workspace.DefaultLimits() {
		t.Errorf("limits without overrides = %+v, want defaults", got)
	}

	cfg.Workspaces.MaxDiskBytes = 1 << 20
	cfg.Workspaces.Timeout = 5 * time.Second
	got := workspaceLimits(cfg)
	if got.MaxTotalBytes != 1<<20 || got.Timeout != 5*time.Second {
		t.Errorf("overridden limits = %+v", got)
	}
	if got.MaxFiles != workspace.DefaultLimits().MaxFiles {
		t.Errorf("MaxFiles = %d, want default retained", got.MaxFiles)
	}
}

func TestRegisterToolsEnforcesRoleCoverage(t *testing.T) {
	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	register := func(cfg *config.Config) error {
		registry := tools.NewRegistry()
		return registerTools(context.Background(), cfg, logger, registry,
			tools.NewSelector(registry), tools.NewManager(logger))
	}

	if err := register(config.Default()); err != nil {
		t.Fatalf("default registration failed: %v", err)
	}

	cfg := config.Default()
	cfg.Tools.Enabled["secretscan"] = false
	if err := register(cfg); err == nil {
		t.Error("registration accepted with a role left without a fallback")
	}
}
