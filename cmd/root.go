package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when the bridge binary is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge MCP tool calls to tools registered by connected browser tabs",
	Long: `bridge runs the MCP browser-tool bridge server: it multiplexes
many frontend WebSocket sessions and many MCP HTTP clients grouped by an
opaque auth token, so a headless MCP client can invoke tools that actually
execute inside a connected browser tab.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "bridge version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
