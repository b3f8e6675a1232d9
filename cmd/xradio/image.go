package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qri-io/xradio/image"
	"github.com/qri-io/xradio/schema"
	"github.com/qri-io/xradio/xds"
	"github.com/qri-io/xradio/zarr"
)

func newImageCmd(a *app) *cobra.Command {
	var (
		kind   string
		params = image.SkyImageParams{
			PhaseCenter:        []float64{0, 0},
			ImageSize:          []int{256, 256},
			CellSize:           []float64{1e-5, 1e-5},
			Frequencies:        []float64{1.4e9},
			Polarization:       []string{"I"},
			Times:              []float64{0},
			DirectionReference: "fk5",
			Projection:         image.ProjectionSIN,
			SpectralReference:  "lsrk",
		}
	)
	cmd := &cobra.Command{
		Use:   "image [out]",
		Short: "Write an empty sky, aperture or lm+uv image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				ds  *xds.Dataset
				err error
			)
			switch kind {
			case "sky":
				ds, err = image.MakeEmptySkyImage(params)
			case "aperture":
				ds, err = image.MakeEmptyApertureImage(params)
			case "lmuv":
				ds, err = image.MakeEmptyLMUVImage(params)
			default:
				return fmt.Errorf("unknown image kind %q", kind)
			}
			if err != nil {
				return err
			}
			if issues := schema.CheckImage(ds); len(issues) > 0 {
				return issues.Err()
			}

			out := a.location(args, 0)
			store, closeStore, err := openStore(ctx, out)
			if err != nil {
				return err
			}
			defer closeStore()
			comp, err := zarr.ParseCompressor(a.cfg.Convert.Compressor)
			if err != nil {
				return err
			}
			err = xds.WriteTree(ctx, store, "", xds.NewTree("", ds), xds.WriteOptions{
				Compressor:  comp,
				Concurrency: a.cfg.Convert.Concurrency,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s image %v to %s\n", kind, ds.Dims(), out)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", "sky", "image kind: sky, aperture or lmuv")
	f.Float64SliceVar(&params.PhaseCenter, "phase-center", params.PhaseCenter, "phase center ra,dec in radians")
	f.IntSliceVar(&params.ImageSize, "size", params.ImageSize, "image size in pixels, l,m")
	f.Float64SliceVar(&params.CellSize, "cell", params.CellSize, "cell size in radians, l,m")
	f.Float64SliceVar(&params.Frequencies, "frequencies", params.Frequencies, "channel frequencies in Hz")
	f.StringSliceVar(&params.Polarization, "polarization", params.Polarization, "polarization products")
	f.Float64SliceVar(&params.Times, "times", params.Times, "times in MJD days")
	f.StringVar(&params.DirectionReference, "direction-reference", params.DirectionReference, "direction frame")
	f.StringVar(&params.Projection, "projection", params.Projection, "SIN or TAN")
	f.StringVar(&params.SpectralReference, "spectral-reference", params.SpectralReference, "spectral frame")
	f.BoolVar(&params.SkyCoords, "sky-coords", false, "add right_ascension and declination")
	return cmd
}
