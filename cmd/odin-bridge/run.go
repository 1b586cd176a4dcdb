package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OdinBridge/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Discover the odin server and serve its attributes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			lifecycle, err := system.NewLifecycleManager(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := lifecycle.Start(ctx); err != nil {
				logger.Error("Failed to start system", zap.Error(err))
				lifecycle.Shutdown(context.Background())
				return err
			}

			<-ctx.Done()
			logger.Info("Shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := lifecycle.Shutdown(shutdownCtx); err != nil {
				logger.Error("Shutdown failed", zap.Error(err))
				return err
			}

			logger.Info("odin bridge stopped")
			return nil
		},
	}
}
