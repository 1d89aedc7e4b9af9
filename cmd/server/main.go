package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	serviceName = "compliance-tracker"
	version     = "1.0.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Background check status, SLA and escalation tracker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newSweepCommand(&configPath),
		newMigrateCommand(&configPath),
		newTokenCommand(&configPath),
	)
	return root
}
