package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ofslicer/ofslicer/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

func printVersion() {
	if version.Version == "dev" {
		fmt.Println("ofslicerd dev build (set version info with -ldflags at build time)")
	} else {
		fmt.Printf("ofslicerd %s (%s)\n", version.Version, version.GitCommit)
	}
}
