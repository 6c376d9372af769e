package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sanonone/cvkit/pkg/calibration"
	"github.com/sanonone/cvkit/pkg/config"
	"github.com/sanonone/cvkit/pkg/datastore"
)

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Align the world frame and prepare EasyWand calibrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newAlignCommand(ctx))
	cmd.AddCommand(newCandidatesCommand(ctx))
	cmd.AddCommand(newImportDLTCommand(ctx))
	return cmd
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var views []string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Compute the rotation, translation and scale from the axis reference points",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if len(views) == 0 {
				views = cfg.ViewNames()
			}
			if !calibration.UpdateAlignmentMatrices(cfg, views) {
				return errors.New("alignment failed, configuration left unchanged")
			}
			r := cfg.Reconstruction
			rows := make([][]string, 0, 3)
			for i, row := range r.RotationMatrix {
				rows = append(rows, []string{
					formatFloat(row[0]), formatFloat(row[1]), formatFloat(row[2]),
					formatFloat(r.Translation[i]),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"R x", "R y", "R z", "Translation"}, rows, 0, 1, 2, 3))
			fmt.Fprintf(out, "computed scale %s\n", formatFloat(r.ComputedScale))
			if dryRun {
				return nil
			}
			return cfg.Save(cfg.Path())
		},
	}
	cmd.Flags().StringSliceVar(&views, "views", nil, "Views to align from (default: every configured view)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the alignment without saving the configuration")
	return cmd
}

func newCandidatesCommand(ctx *commandContext) *cobra.Command {
	var (
		views  []string
		opts   calibration.CandidateOptions
		export bool
	)
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Pick frames where every view sees the wand confidently",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if len(views) == 0 {
				views = cfg.ViewNames()
			}
			stores, err := openViews(ctx.stores, cfg, views)
			if err != nil {
				return err
			}
			ordered := make([]datastore.DataStore, len(views))
			for i, v := range views {
				ordered[i] = stores[v]
			}
			indices, err := calibration.PickCalibrationCandidates(cmd.Context(), cfg, ordered, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, index := range indices {
				fmt.Fprintln(out, index)
			}
			if !export {
				return nil
			}
			files, err := calibration.WriteEasyWand(cfg, stores, indices, nil)
			if err != nil {
				return err
			}
			ctx.logger.Info("[Calibration] EasyWand files written", "wand_points", files.WandPoints, "frames", len(indices))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&views, "views", nil, "Views to intersect (default: every configured view)")
	cmd.Flags().IntVar(&opts.BinSize, "bin-size", 50, "Spatial bin size in pixels")
	cmd.Flags().IntVar(&opts.MinFrameGap, "min-gap", 0, "Minimum frames between picks of a bin (default: framerate/10)")
	cmd.Flags().IntVar(&opts.MaxCandidates, "max", 0, "Keep at most this many frames, sampled uniformly")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Sampling seed")
	cmd.Flags().BoolVar(&export, "easywand", false, "Write EasyWand input files for the picked frames")
	return cmd
}

func newImportDLTCommand(ctx *commandContext) *cobra.Command {
	var order []string
	cmd := &cobra.Command{
		Use:   "import-dlt <coefficients.csv>",
		Short: "Load EasyWand DLT coefficients into the configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if len(order) == 0 {
				order = cfg.ViewNames()
			}
			if err := calibration.UpdateDLTCoefficients(cfg, args[0], order); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return cfg.Save(cfg.Path())
		},
	}
	cmd.Flags().StringSliceVar(&order, "order", nil, "Camera order of the CSV columns (default: configured view order)")
	return cmd
}

// openViews opens the annotation datastore of each view.
func openViews(stores *datastore.Registry, cfg *config.Config, views []string) (map[string]datastore.DataStore, error) {
	out := make(map[string]datastore.DataStore, len(views))
	for _, v := range views {
		a, ok := cfg.AnnotationFor(v)
		if !ok {
			return nil, fmt.Errorf("no annotation file for view %q", v)
		}
		ds, err := stores.Open(a.Flavor, cfg.BodyParts, a.AnnotationFile)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", v, err)
		}
		out[v] = ds
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
