package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pushcron/internal/config"
	"pushcron/internal/registry"
)

func jobsCommand(cfgPath *string) *cobra.Command {
	var next int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs and their next run times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(*cfgPath)
			if err != nil {
				return err
			}
			reg, errs := registry.Load(cfg)

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSCHEDULE\tTIMEZONE\tTARGET\tVARIANTS\tNEXT")
			now := time.Now()
			for _, j := range reg.Jobs() {
				sched, tz, runs := "-", "-", "on demand"
				if j.Scheduled {
					sched, tz = j.Rule.Expr, j.Rule.Location.String()
					runs = ""
					for i, t := range j.Rule.NextN(now, next) {
						if i > 0 {
							runs += ", "
						}
						runs += t.In(j.Rule.Location).Format("2006-01-02 15:04 MST")
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", j.Name, sched, tz, j.Policy.Describe(), j.Pool.Len(), runs)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, err := range errs {
				fmt.Fprintf(out, "skipped: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&next, "next", "n", 1, "number of upcoming runs to show")
	return cmd
}
