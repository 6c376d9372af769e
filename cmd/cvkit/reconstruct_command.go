package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanonone/cvkit/pkg/processor"
)

func newReconstructCommand(ctx *commandContext) *cobra.Command {
	var (
		views     []string
		output    string
		workers   int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Triangulate the configured 2D views into a 3D datastore",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.env()
			if err != nil {
				return err
			}
			params := processor.Params{"output": output, "workers": workers}
			if len(views) > 0 {
				params["source_views"] = views
			}
			if cmd.Flags().Changed("threshold") {
				params["threshold"] = threshold
			}

			reg := processor.NewRegistry()
			plan := &processor.Plan{Steps: []processor.Step{
				{Processor: processor.IDReconstruct, Params: params},
				{Processor: processor.IDClusterAnalysis},
				{Processor: processor.IDSaveFile},
			}}
			pipe, err := reg.Pipeline(env, plan, ctx.logger)
			if err != nil {
				return err
			}
			ds, run, err := pipe.Run(cmd.Context(), nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d frames written to %s\n", run.ID, ds.Len(), ds.Path())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&views, "views", nil, "Source views (default: every configured view)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CVKit3D file")
	cmd.Flags().IntVar(&workers, "workers", 0, "Triangulation workers (default: GOMAXPROCS)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Likelihood threshold (default: from the configuration)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
