// commands.go contains the cobra command definitions and their flag
// configurations. Each builder wires a command to its handler.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reviewd",
		Short: "Code-review analysis orchestrator",
		Long: `reviewd orchestrates code-review analysis tools: it accepts webhook
triggers, dispatches registered tools with bounded concurrency, caches
tiered results, and schedules recurring repository scans.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildScanCmd(),
		buildScheduleCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis server",
		Long: `Start the webhook server with the scheduler and hosted tools.

The server will:
1. Load configuration from the specified file (or reviewd.yaml)
2. Open the cache, repository, and schedule stores
3. Register analysis tools and start hosted-tool supervision
4. Start the schedule dispatch loop
5. Serve /webhook, /healthz, and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  reviewd serve

  # Start with custom config
  reviewd serve --config /etc/reviewd/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildScanCmd() *cobra.Command {
	var (
		configPath   string
		tier         string
		perspectives []string
	)
	cmd := &cobra.Command{
		Use:   "scan <repository-url>",
		Short: "Run a one-shot analysis against a repository",
		Args:  cobra.ExactArgs(1),
		Example: `  reviewd scan https://github.com/acme/api
  reviewd scan https://github.com/acme/api --tier targeted --perspective security --perspective dependencies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), resolveConfigPath(configPath), args[0], tier, perspectives)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&tier, "tier", "t", "comprehensive", "Analysis tier: quick, comprehensive, or targeted")
	cmd.Flags().StringArrayVarP(&perspectives, "perspective", "p", nil, "Targeted perspective (repeatable)")
	return cmd
}

func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and control repository scan schedules",
	}
	cmd.AddCommand(
		buildScheduleListCmd(),
		buildScheduleRunCmd(),
		buildSchedulePauseCmd(),
		buildScheduleResumeCmd(),
	)
	return cmd
}

func buildScheduleListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules with cadence and next firing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleList(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildScheduleRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fire all currently due schedules once and wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleRun(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildSchedulePauseCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "pause <repository-url>",
		Short: "Deactivate a repository's schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedulePause(cmd.Context(), resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildScheduleResumeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "resume <repository-url>",
		Short: "Reactivate a paused schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleResume(cmd.Context(), resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// resolveConfigPath picks the config file: flag, REVIEWD_CONFIG, or
// reviewd.yaml when one exists in the working directory.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("REVIEWD_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("reviewd.yaml"); err == nil {
		return "reviewd.yaml"
	}
	return ""
}
