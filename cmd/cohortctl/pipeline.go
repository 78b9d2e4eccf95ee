package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/longcovid-cohort/internal/app"
	"github.com/yungbote/longcovid-cohort/internal/pipeline"
)

type pipelineFunc func(ctx context.Context, a *app.App) (pipeline.Summary, error)

func pipelineRun(ctx context.Context, a *app.App) (pipeline.Summary, error) {
	if err := a.RequireSource(); err != nil {
		return pipeline.Summary{}, err
	}
	return a.Pipeline.Run(ctx)
}

func pipelineExtract(ctx context.Context, a *app.App) (pipeline.Summary, error) {
	if err := a.RequireSource(); err != nil {
		return pipeline.Summary{}, err
	}
	return a.Pipeline.Extract(ctx)
}

func pipelineCompute(ctx context.Context, a *app.App) (pipeline.Summary, error) {
	return a.Pipeline.Compute(ctx)
}

func pipelineExport(ctx context.Context, a *app.App) (pipeline.Summary, error) {
	return a.Pipeline.Export(ctx)
}

func (c *cli) pipelineCmd(use, short string, fn pipelineFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			sum, err := fn(cmd.Context(), a)
			if sum.RunID != uuid.Nil {
				err = errors.Join(err, printSummary(cmd.OutOrStdout(), sum))
			}
			return err
		}),
	}
}

func printSummary(out io.Writer, sum pipeline.Summary) error {
	fmt.Fprintf(out, "run %s  command=%s  status=%s\n\n", sum.RunID, sum.Command, sum.Status)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTEP\tUNIT\tDROPPED\tREMAINING")
	for _, s := range sum.Steps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", s.Stage, s.Name, s.Unit, s.Dropped, s.Remaining)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if sum.Manifest == nil {
		return nil
	}
	fmt.Fprintf(out, "\nexported to %s\n", sum.Manifest.Sink)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tROWS\tBYTES\tLOCATION")
	for _, f := range sum.Manifest.Files {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", f.Key, f.Rows, f.Bytes, f.Location)
	}
	return w.Flush()
}
