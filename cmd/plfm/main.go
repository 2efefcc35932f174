package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/plfm/plfm/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "plfm",
	Short: "plfm - event-sourced platform control plane and edge",
	Long: `plfm runs small-team application platforms: an event-sourced
control plane scheduling workloads onto nodes, an L4 edge routing
TLS traffic by SNI, and a node agent converging workloads locally.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; real deployments set the environment
		_ = godotenv.Load()

		level := log.InfoLevel
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = log.DebugLevel
		}
		log.Init(log.Config{Level: level, JSONOutput: true, Output: os.Stderr})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"plfm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	rootCmd.AddCommand(controlPlaneCmd)
	rootCmd.AddCommand(edgeCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(migrateCmd)
}
