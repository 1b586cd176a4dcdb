package main

import (
	"fmt"

	"github.com/KevinKickass/OdinBridge/internal/auth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint credentials for the REST and websocket API",
	}
	cmd.AddCommand(newAccessTokenCommand(opts))
	cmd.AddCommand(newMachineTokenCommand())
	return cmd
}

func newAccessTokenCommand(opts *rootOptions) *cobra.Command {
	var subject, role string

	cmd := &cobra.Command{
		Use:   "access",
		Short: "Sign a JWT access token with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cfg.Auth.IsProductionReady() {
				logger.Warn("Signing with a development JWT secret",
					zap.String("env", cfg.Auth.JWTSecretEnv))
			}
			token, err := auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.AccessTokenTTL).GenerateAccessToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", "operator", "role: viewer, operator or admin")
	return cmd
}

func newMachineTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "machine",
		Short: "Generate a machine token and the hash to put in auth.machine_token_hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n", token)
			fmt.Fprintf(out, "hash:  %s\n", hash)
			return nil
		},
	}
}
