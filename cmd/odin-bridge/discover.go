package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/KevinKickass/OdinBridge/internal/config"
	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/KevinKickass/OdinBridge/internal/odin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDiscoverCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery and print the composed tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "yaml" && output != "json" {
				return fmt.Errorf("unsupported output format %q", output)
			}
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			return discover(cmd, cfg, logger, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func discover(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, output string) error {
	conn := odin.NewConnection(cfg.Odin.Host, cfg.Odin.Port, cfg.Odin.RequestTimeout)
	composer, err := controller.NewComposer(conn, controller.Options{
		Composition:  cfg.Odin.Composition(),
		UpdatePeriod: cfg.Odin.PollInterval,
		Attempts:     cfg.Odin.DiscoveryAttempts,
		RetryDelay:   cfg.Odin.DiscoveryRetryDelay,
	}, logger)
	if err != nil {
		return err
	}
	if err := composer.Connect(); err != nil {
		return err
	}
	defer composer.Close()

	report, err := composer.Discover(cmd.Context())
	if err != nil {
		return err
	}

	manifest := controller.BuildManifest(composer.Root(), report)
	return writeManifest(cmd.OutOrStdout(), manifest, output)
}

func writeManifest(w io.Writer, manifest controller.Manifest, output string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	}
	return manifest.WriteYAML(w)
}
