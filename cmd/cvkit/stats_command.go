package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var (
		flavor    string
		parts     []string
		threshold float64
		binWidth  int
		maxBin    int
	)
	cmd := &cobra.Command{
		Use:   "stats <file>",
		Short: "Show missing and accurate data clusters of a datastore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(parts) == 0 || !cmd.Flags().Changed("threshold") {
				cfg, err := ctx.config()
				if err != nil {
					return fmt.Errorf("pass --parts and --threshold or a configuration: %w", err)
				}
				if len(parts) == 0 {
					parts = cfg.BodyParts
				}
				if !cmd.Flags().Changed("threshold") {
					threshold = cfg.Threshold()
				}
			}
			ds, err := ctx.stores.Open(flavor, parts, args[0])
			if err != nil {
				return err
			}
			stats, err := datastore.EnsureStats(ds, threshold)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(parts))
			for _, part := range ds.BodyParts() {
				clusters := stats.NAClusters(part)
				missing, longest := 0, 0
				for _, c := range clusters {
					missing += c.Len()
					longest = max(longest, c.Len())
				}
				rows = append(rows, []string{part, strconv.Itoa(len(clusters)), strconv.Itoa(missing), strconv.Itoa(longest)})
			}
			fmt.Fprintf(out, "%s: %d frames, threshold %.2f\n", ds.Path(), ds.Len(), threshold)
			fmt.Fprintln(out, renderTable([]string{"Keypoint", "Missing clusters", "Missing frames", "Longest"}, rows, 1, 2, 3))

			count, hist, total := stats.AccurateClusterInfo(binWidth, maxBin)
			histRows := make([][]string, 0, len(hist))
			lower := 0
			for _, bin := range hist {
				histRows = append(histRows, []string{fmt.Sprintf("%d-%d", lower, bin.UpperBound-1), strconv.Itoa(bin.Count)})
				lower = bin.UpperBound
			}
			fmt.Fprintf(out, "%d accurate clusters spanning %d frames\n", count, total)
			fmt.Fprintln(out, renderTable([]string{"Width", "Clusters"}, histRows, 1))
			return nil
		},
	}
	cmd.Flags().StringVar(&flavor, "flavor", datastore.FlavorDeepLabCut, "Datastore flavor")
	cmd.Flags().StringSliceVar(&parts, "parts", nil, "Keypoints (default: from the configuration)")
	cmd.Flags().Float64Var(&threshold, "threshold", config.DefaultThreshold, "Likelihood threshold")
	cmd.Flags().IntVar(&binWidth, "bin-width", 20, "Histogram bin width in frames")
	cmd.Flags().IntVar(&maxBin, "max-bin", 200, "Upper bound of the last histogram bin")
	return cmd
}
