package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pushcron/internal/config"
	"pushcron/internal/httpapi"
)

func tokenCommand(cfgPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the custom notification endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(*cfgPath)
			if err != nil {
				return err
			}
			tok, err := httpapi.MintToken(cfg.HTTP.Auth, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject, recorded as the actor in the audit log")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 means no expiry")
	return cmd
}
