// Package cmd defines the flowbench command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/flowbench-org/flowbench/internal/cmn/build"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "Flowbench is the control plane of a visual data-pipeline platform",
	Long: `Flowbench is the control plane of a visual data-pipeline platform.

It ingests compute-block manifests from git repositories, propagates
configuration across pipeline edges, compiles project graphs into DAG
artifacts for an external workflow engine and streams run status to
clients.`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"config file (default is ./flowbench.yaml or /etc/flowbench/flowbench.yaml)",
	)

	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(versionCmd())
}
