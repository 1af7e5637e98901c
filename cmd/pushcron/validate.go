package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pushcron/internal/config"
	"pushcron/internal/registry"
)

func validateCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file, including every job row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(*cfgPath)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			reg, errs := registry.Load(cfg)
			out := cmd.OutOrStdout()
			for _, err := range errs {
				fmt.Fprintf(out, "❌ %v\n", err)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d job(s) invalid", len(errs))
			}
			fmt.Fprintf(out, "✅ %s: %d job(s), %d scheduled\n", *cfgPath, reg.Len(), len(reg.Scheduled()))
			return nil
		},
	}
}
