package main

import (
	"os"

	"github.com/flowbench-org/flowbench/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
