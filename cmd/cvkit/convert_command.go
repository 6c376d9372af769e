package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanonone/cvkit/pkg/datastore"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var (
		from, to  string
		parts     []string
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "convert <source> <target>",
		Short: "Rewrite a datastore in another flavor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(parts) == 0 {
				cfg, err := ctx.config()
				if err != nil {
					return fmt.Errorf("pass --parts or a configuration: %w", err)
				}
				parts = cfg.BodyParts
			}
			src, err := ctx.stores.Open(from, parts, args[0])
			if err != nil {
				return err
			}
			dst, err := ctx.stores.Open(to, parts, args[1])
			if err != nil {
				return err
			}
			if err := datastore.Convert(src, dst, threshold); err != nil {
				return err
			}
			ctx.logger.Info("[Convert] Datastore converted", "from", args[0], "to", args[1], "frames", src.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", datastore.FlavorDeepLabCut, "Source flavor")
	cmd.Flags().StringVar(&to, "to", datastore.FlavorCVKit3D, "Target flavor")
	cmd.Flags().StringSliceVar(&parts, "parts", nil, "Keypoints (default: from the configuration)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Parts at or below this likelihood are written as missing")
	return cmd
}
