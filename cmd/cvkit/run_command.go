package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanonone/cvkit/pkg/processor"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a processor pipeline file",
		Long: "Run the steps of a pipeline file in order. Each step names a processor id\n" +
			"and its parameters; the output of a step is the input of the next.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.env()
			if err != nil {
				return err
			}
			plan, err := processor.LoadPlan(args[0])
			if err != nil {
				return err
			}
			pipe, err := processor.NewRegistry().Pipeline(env, plan, ctx.logger)
			if err != nil {
				return err
			}
			ds, run, err := pipe.Run(cmd.Context(), nil)
			status, step, _ := run.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s", run.ID, status)
			if step != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " at %s", step)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if ds != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%d frames in %s\n", ds.Len(), ds.Path())
			}
			return nil
		},
	}
}
