package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mailboxd",
	Short: "Per-workspace mailbox service",
	Long: `mailboxd serves the workspace mailbox HTTP API.

Messages are listed, handled and deleted per workspace. Storage is
in-memory, PostgreSQL or MongoDB; deleted messages can be archived
to S3 or GCS.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults to $CONFIG_PATH, then environment only)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
