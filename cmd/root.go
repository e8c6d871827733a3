package cmd

import (
	"fmt"
	"os"

	"github.com/cachekit/stripekv/cmd/bench"
	"github.com/cachekit/stripekv/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "stripekv",
		Short: "striped-lock key-value store",
		Long: fmt.Sprintf(`stripekv (v%s)

A key-value store library written in Go that serializes access with a
fixed set of striped reader-writer locks, with pluggable storage
backends and optional RAFT replication.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of stripekv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stripekv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
