package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qri-io/xradio/internal/logging"
	"github.com/qri-io/xradio/measurementset"
	"github.com/qri-io/xradio/schema"
	"github.com/qri-io/xradio/xds"
)

func newCheckCmd(a *app) *cobra.Command {
	var isImage bool
	cmd := &cobra.Command{
		Use:   "check [store]",
		Short: "Check a stored processing set or image against the MSv4 schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loc := a.location(args, 0)
			store, closeStore, err := openStore(ctx, loc)
			if err != nil {
				return err
			}
			defer closeStore()

			tree, err := xds.OpenTree(ctx, store, "", xds.ReadOptions{
				Concurrency: a.cfg.Convert.Concurrency,
			})
			if err != nil {
				return err
			}

			var issues schema.Issues
			if isImage {
				issues = schema.CheckImage(tree.Dataset)
			} else {
				issues = schema.CheckDatatree(tree)
			}
			fmt.Fprintln(cmd.OutOrStdout(), issues)
			if len(issues) > 0 {
				logging.From(ctx).Warn("schema check failed", zap.String("location", loc), zap.Int("issues", len(issues)))
				return fmt.Errorf("%d schema issues in %s", len(issues), loc)
			}
			if !isImage {
				ms := len(tree.ChildNames())
				if !measurementset.IsProcessingSet(tree) {
					ms = 1
				}
				logging.From(ctx).Debug("schema check passed", zap.String("location", loc), zap.Int("measurement_sets", ms))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&isImage, "image", false, "check an image dataset instead of a processing set")
	return cmd
}
