package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/longcovid-cohort/internal/app"
	"github.com/yungbote/longcovid-cohort/internal/clients/redis"
	"github.com/yungbote/longcovid-cohort/internal/domain/snapshot"
)

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent entries of the run ledger",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			runs, err := a.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func printRuns(out io.Writer, runs []*snapshot.PipelineRun) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Command, r.Status, r.StartedAt.UTC().Format(time.RFC3339), dur, r.Error)
	}
	return w.Flush()
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow pipeline progress published on the redis run channel",
		Long: `watch subscribes to the run channel and prints every stage and tally
event as one JSON line until interrupted. It needs REDIS_ADDR.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return a.Watch(cmd.Context(), func(ev redis.RunEvent) {
				if err := enc.Encode(ev); err != nil {
					a.Log.Warn("encode run event failed", "error", err)
				}
			})
		}),
	}
}

func (c *cli) exportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Manage exported runs in the export bucket",
	}

	list := &cobra.Command{
		Use:   "list [prefix]",
		Short: "List exported objects, optionally below a run id",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			keys, err := a.ListExports(cmd.Context(), prefix)
			if err != nil {
				return bucketErr(err)
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete every exported object of one run",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			n, err := a.DeleteExport(cmd.Context(), args[0])
			if err != nil {
				return bucketErr(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d objects\n", n)
			return nil
		}),
	}

	cmd.AddCommand(list, del)
	return cmd
}

func bucketErr(err error) error {
	if errors.Is(err, app.ErrNoBucket) {
		return fmt.Errorf("%w: set EXPORT_GCS_BUCKET", err)
	}
	return err
}
