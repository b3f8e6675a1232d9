package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qri-io/xradio/measurementset"
	"github.com/qri-io/xradio/xds"
)

func newSummaryCmd(a *app) *cobra.Command {
	var (
		dataGroup string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "summary [store]",
		Short: "Describe every measurement set of a stored processing set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, a.location(args, 0))
			if err != nil {
				return err
			}
			defer closeStore()

			tree, err := measurementset.Open(ctx, store, "", xds.ReadOptions{
				Concurrency: a.cfg.Convert.Concurrency,
			})
			if err != nil {
				return err
			}
			ps := measurementset.NewProcessingSet(tree)
			rows, err := ps.Summary(dataGroup)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSPW\tSHAPE\tSIZE\tFIELDS\tINTENTS\tFREQUENCY")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\t%s - %s\n",
					r.Name,
					r.SpwName,
					r.Shape,
					humanize.IBytes(shapeBytes(r.Shape, 8)),
					strings.Join(r.FieldName, ","),
					strings.Join(r.Intents, ","),
					humanize.SIWithDigits(r.StartFrequency, 3, "Hz"),
					humanize.SIWithDigits(r.EndFrequency, 3, "Hz"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dataGroup, "data-group", "", "data group to describe, default per measurement set")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func shapeBytes(shape []int, itemSize uint64) uint64 {
	n := itemSize
	for _, s := range shape {
		n *= uint64(s)
	}
	return n
}
