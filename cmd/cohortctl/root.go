package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/longcovid-cohort/internal/app"
)

// cli holds the flags shared by every subcommand and the app they open.
type cli struct {
	configPath  string
	metricsFile string
	logMode     string

	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "cohortctl",
		Short: "Extract and analyse the long-COVID study cohort",
		Long: `cohortctl extracts vaccination and test survey answers plus daily vitals
from the study database, reconciles them into per-user snapshots and computes
weekly vital deviations and cohort memberships.

Configuration is read from --config (or $COHORT_CONFIG_FILE) and overridden by
environment variables. Every command is recorded in the run ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (default $COHORT_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&c.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	root.PersistentFlags().StringVar(&c.logMode, "log-mode", "", "development or prod (default $LOG_MODE)")

	root.AddCommand(
		c.pipelineCmd("run", "Extract, compute and export in one ledger entry", pipelineRun),
		c.pipelineCmd("extract", "Load survey answers and vitals into snapshot tables", pipelineExtract),
		c.pipelineCmd("compute", "Compute cohorts, baselines and deviations from the snapshots", pipelineCompute),
		c.pipelineCmd("export", "Export the current snapshot tables as CSV", pipelineExport),
		c.runsCmd(),
		c.watchCmd(),
		c.exportsCmd(),
		versionCmd(),
	)
	return root
}

// withApp opens the app for the duration of one command. Close runs even
// when fn fails so the metrics textfile and traces are flushed.
func (c *cli) withApp(fn func(cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := c.open(cmd); err != nil {
			return err
		}
		defer c.close(cmd)
		return fn(cmd, c.app, args)
	}
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := app.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.metricsFile != "" {
		cfg.MetricsFile = c.metricsFile
	}
	if c.logMode != "" {
		cfg.LogMode = c.logMode
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close(cmd *cobra.Command) {
	if c.app == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
	defer cancel()
	c.app.Close(ctx)
	c.app = nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	}
}
