package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webtoolbridge/bridge/internal/app"
)

var (
	serveAddr                       string
	serveName                       string
	serveDescription                string
	serveIcon                       string
	serveAgentURL                   string
	serveMaxSessionsPerToken        int
	serveOnSessionLimitExceeded     string
	serveMaxInFlightQueriesPerToken int
	serveSessionMaxDurationMs       int
	serveDefaultToolCallTimeoutMs   int
	serveDebug                      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(
		serveAddr,
		serveName,
		serveDescription,
		serveIcon,
		serveAgentURL,
		serveMaxSessionsPerToken,
		serveOnSessionLimitExceeded,
		serveMaxInFlightQueriesPerToken,
		serveSessionMaxDurationMs,
		serveDefaultToolCallTimeoutMs,
		serveDebug,
	)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8787", "Address to listen on for both the frontend WebSocket and the MCP HTTP surface")
	serveCmd.Flags().StringVar(&serveName, "name", "", "Server name published in MCP serverInfo")
	serveCmd.Flags().StringVar(&serveDescription, "description", "", "Server description published in MCP serverInfo")
	serveCmd.Flags().StringVar(&serveIcon, "icon", "", "Optional icon URL published in MCP serverInfo")
	serveCmd.Flags().StringVar(&serveAgentURL, "agent-url", "", "Base URL of the agent HTTP endpoint used for frontend-originated queries")
	serveCmd.Flags().IntVar(&serveMaxSessionsPerToken, "max-sessions-per-token", 0, "Maximum live frontend sessions per auth token (0 = unlimited)")
	serveCmd.Flags().StringVar(&serveOnSessionLimitExceeded, "on-session-limit-exceeded", "reject", "Policy when the session quota is reached: reject or close_oldest")
	serveCmd.Flags().IntVar(&serveMaxInFlightQueriesPerToken, "max-inflight-queries-per-token", 0, "Maximum concurrent agent queries per auth token (0 = unlimited)")
	serveCmd.Flags().IntVar(&serveSessionMaxDurationMs, "session-max-duration-ms", 0, "Maximum session age in milliseconds before it is force-closed (0 = unbounded)")
	serveCmd.Flags().IntVar(&serveDefaultToolCallTimeoutMs, "default-tool-call-timeout-ms", 30000, "Default tools/call timeout when the caller does not specify one")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
