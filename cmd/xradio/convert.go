package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qri-io/xradio/internal/logging"
	"github.com/qri-io/xradio/measurementset"
	"github.com/qri-io/xradio/msv2"
	"github.com/qri-io/xradio/xds"
	"github.com/qri-io/xradio/zarr"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		scheme      string
		name        string
		compressor  string
		chunkTarget string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "convert <ms.json> [out]",
		Short: "Convert an MSv2 JSON export to an MSv4 processing set",
		Long: `Partitions the main table of an MSv2 export and writes one MSv4 node per
partition below the output location, a local directory or gs://bucket/prefix.
The output defaults to the configured store.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conv := a.cfg.Convert
			if cmd.Flags().Changed("scheme") {
				conv.PartitionScheme = scheme
			}
			if cmd.Flags().Changed("compressor") {
				conv.Compressor = compressor
			}
			if cmd.Flags().Changed("chunk-target") {
				conv.ChunkTarget = chunkTarget
			}
			if cmd.Flags().Changed("concurrency") {
				conv.Concurrency = concurrency
			}

			ps, err := msv2.ParseScheme(conv.PartitionScheme)
			if err != nil {
				return err
			}
			comp, err := zarr.ParseCompressor(conv.Compressor)
			if err != nil {
				return err
			}
			target, err := conv.ChunkTargetBytes()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			ms, err := msv2.ReadJSON(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := a.location(args, 1)
			store, closeStore, err := openStore(ctx, out)
			if err != nil {
				return err
			}
			defer closeStore()

			tree, err := msv2.Convert(ctx, ms, msv2.ConvertOptions{
				Scheme:      ps,
				Name:        name,
				Store:       store,
				Compressor:  comp,
				ChunkTarget: target,
				Concurrency: conv.Concurrency,
			})
			if err != nil {
				return err
			}

			size := visibilityBytes(tree)
			logging.From(ctx).Info("wrote processing set",
				zap.String("location", out),
				zap.Int("measurement_sets", len(tree.ChildNames())),
				zap.Uint64("visibility_bytes", size))
			fmt.Fprintf(cmd.OutOrStdout(), "converted %d partitions (%s of visibilities) to %s\n",
				len(tree.ChildNames()), humanize.IBytes(size), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "", "partition scheme: ddi, intent, scan or scan/subscan")
	cmd.Flags().StringVar(&name, "name", "", "measurement set name prefix")
	cmd.Flags().StringVar(&compressor, "compressor", "", "chunk codec: zstd, zlib, gzip or none")
	cmd.Flags().StringVar(&chunkTarget, "chunk-target", "", `chunk size such as "64 MiB"`)
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "partitions converted at once")
	return cmd
}

// visibilityBytes totals the in-memory size of every measurement set's
// visibilities
func visibilityBytes(ps *xds.Tree) uint64 {
	var total uint64
	for _, node := range ps.Children() {
		if !measurementset.IsMeasurementSet(node) {
			continue
		}
		if v, ok := node.Dataset.DataVars["VISIBILITY"]; ok {
			total += uint64(v.Size()) * 8
		}
	}
	return total
}
