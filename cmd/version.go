package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowbench-org/flowbench/internal/cmn/build"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flowbench version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.Version)
		},
	}
}
