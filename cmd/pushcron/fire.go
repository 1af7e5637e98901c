package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pushcron/internal/app"
	"pushcron/internal/delivery"
	"pushcron/internal/dispatch"
)

func fireCommand(cfgPath *string) *cobra.Command {
	var (
		userID string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "fire <job>",
		Short: "Send one notification of a job now",
		Long: `Send one notification of a job now, exactly as the fire endpoint would.

Examples:
  pushcron fire test_all_users
  pushcron fire direct_reminder --user 42
  pushcron fire daily_pregnancy_tip --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				opts = []app.Option{app.WithoutWatch()}
				rec  *delivery.Recorder
			)
			if dryRun {
				rec = &delivery.Recorder{}
				opts = append(opts, app.WithProvider(rec))
			}
			a, err := app.New(cmd.Context(), *cfgPath, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()

			ev, err := a.Gateway().FireNow(cmd.Context(), args[0], dispatch.RequestContext{EntityID: userID})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rec != nil {
				for _, env := range rec.Calls() {
					fmt.Fprintf(out, "dry run: %s\n  title: %s\n  body:  %s\n  data:  %v\n", env.Target, env.Title, env.Body, env.Data)
				}
				return nil
			}
			fmt.Fprintf(out, "Notification %s sent successfully to %s\n", ev.Job, ev.Target)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "entity id for caller-supplied targets")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the notification instead of sending it")
	return cmd
}
