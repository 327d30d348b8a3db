package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient talks to the daemon's management API.
	httpClient *http.Client

	// baseURL is the daemon API base URL, derived from --addr.
	baseURL string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the HTTP connection.
	serverAddr string
)

// rootCmd is the top-level cobra command for dot1xctl.
var rootCmd = &cobra.Command{
	Use:   "dot1xctl",
	Short: "CLI client for the godot1x daemon",
	Long:  "dot1xctl communicates with the godot1x daemon over its HTTP API to inspect and manage 802.1X ports.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 10 * time.Second}
		baseURL = "http://" + serverAddr
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051",
		"godot1x daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(portCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
