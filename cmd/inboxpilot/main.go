// Package main is the inboxpilot command: the long-running service and the
// offline sandbox.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inboxpilot",
	Short: "Inbox automation: decision engine, follow-ups and ops API",
	Long: `inboxpilot answers customer messages under workspace policy, escalates
risky conversations to a human and nudges stalled ones before the reply
window closes.

Run "inboxpilot serve" for the service or "inboxpilot sandbox" to replay
scripted conversations without sending anything.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	rootCmd.AddCommand(serveCmd, sandboxCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
