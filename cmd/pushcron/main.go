package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "pushcron",
		Short:         "Scheduled push notification dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./pushcron.yaml", "path to config (json or yaml)")

	root.AddCommand(
		serveCommand(&cfgPath),
		fireCommand(&cfgPath),
		jobsCommand(&cfgPath),
		validateCommand(&cfgPath),
		tokenCommand(&cfgPath),
	)
	return root
}
