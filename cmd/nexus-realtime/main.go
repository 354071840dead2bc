package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexus-realtime",
		Short: "Channel event client for Pusher-compatible relays",
		Long: `nexus-realtime connects to a Pusher-compatible relay, subscribes to
channels and prints the events it receives as JSON lines.

Configuration is read from an optional YAML file and REALTIME_* environment
variables, for example REALTIME_RELAY_HOST and REALTIME_RELAY_APP_KEY.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("nexus-realtime version %s\nCommit: %s\n", Version, Commit))
	root.PersistentFlags().StringP("config", "c", "", "path to a YAML configuration file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the configuration")

	root.AddCommand(newListenCmd())
	root.AddCommand(newAuthorizeCmd())
	return root
}
