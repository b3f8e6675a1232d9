// Command xradio converts MSv2 exports to MSv4 processing sets, summarizes
// and checks stored processing sets, and creates empty images
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/qri-io/xradio/internal/config"
	"github.com/qri-io/xradio/internal/logging"
)

// app holds state shared by subcommands once flags are parsed
type app struct {
	configPath string
	verbose    bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "xradio",
		Short:         "Radio astronomy visibilities and images on zarr",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a.cfg = cfg

			logger, atom, err := logging.New(cfg.Logging.Level)
			if err != nil {
				return err
			}
			if a.verbose {
				atom.SetLevel(zapcore.DebugLevel)
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.From(cmd.Context()).Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "xradio.yaml", "path to the YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newConvertCmd(a),
		newSummaryCmd(a),
		newCheckCmd(a),
		newImageCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
