// Package app wires configuration, the bridge core, and the stdhttp
// transport adapter into one runnable process (mirrors the teacher's
// internal/app bootstrap pattern).
package app

import (
	"context"
	"time"

	"github.com/webtoolbridge/bridge/internal/bridge"
	"github.com/webtoolbridge/bridge/internal/scheduler"
	"github.com/webtoolbridge/bridge/internal/stdhttp"
	"github.com/webtoolbridge/bridge/pkg/logging"
)

// Config collects the options spec §6 "Configuration" recognizes plus the
// adapter's own bind address.
type Config struct {
	Addr string

	Name        string
	Description string
	Icon        string

	AgentURL string

	MaxSessionsPerToken        int
	OnSessionLimitExceeded     string
	MaxInFlightQueriesPerToken int
	SessionMaxDurationMs       int
	DefaultToolCallTimeoutMs   int

	Debug bool
}

// NewConfig builds an app.Config from parsed CLI flags.
func NewConfig(addr, name, description, icon, agentURL string, maxSessions int, limitPolicy string, maxInFlightQueries, sessionMaxDurationMs, defaultToolCallTimeoutMs int, debug bool) Config {
	return Config{
		Addr:                       addr,
		Name:                       name,
		Description:                description,
		Icon:                       icon,
		AgentURL:                   agentURL,
		MaxSessionsPerToken:        maxSessions,
		OnSessionLimitExceeded:     limitPolicy,
		MaxInFlightQueriesPerToken: maxInFlightQueries,
		SessionMaxDurationMs:       sessionMaxDurationMs,
		DefaultToolCallTimeoutMs:   defaultToolCallTimeoutMs,
		Debug:                      debug,
	}
}

// Application is a fully wired, unstarted bridge process.
type Application struct {
	config Config
	bridge *bridge.Bridge
	server *stdhttp.Server
}

// NewApplication constructs the bridge core (C1-C10) and its stdhttp
// adapter. It does not bind a listener until Run is called.
func NewApplication(cfg Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, nil)

	bridgeConfig := bridge.DefaultConfig()
	if cfg.Name != "" {
		bridgeConfig.Name = cfg.Name
	}
	if cfg.Description != "" {
		bridgeConfig.Description = cfg.Description
	}
	bridgeConfig.Icon = cfg.Icon
	bridgeConfig.AgentURL = cfg.AgentURL
	bridgeConfig.MaxSessionsPerToken = cfg.MaxSessionsPerToken
	if cfg.OnSessionLimitExceeded == string(bridge.PolicyCloseOldest) {
		bridgeConfig.OnSessionLimitExceeded = bridge.PolicyCloseOldest
	} else {
		bridgeConfig.OnSessionLimitExceeded = bridge.PolicyReject
	}
	bridgeConfig.MaxInFlightQueriesPerToken = cfg.MaxInFlightQueriesPerToken
	if cfg.SessionMaxDurationMs > 0 {
		bridgeConfig.SessionMaxDuration = time.Duration(cfg.SessionMaxDurationMs) * time.Millisecond
	}
	if cfg.DefaultToolCallTimeoutMs > 0 {
		bridgeConfig.DefaultToolCallTimeout = time.Duration(cfg.DefaultToolCallTimeoutMs) * time.Millisecond
	}

	var agent bridge.AgentClient
	if cfg.AgentURL != "" {
		agent = stdhttp.NewHTTPAgentClient(cfg.AgentURL)
	}

	b := bridge.New(bridgeConfig, scheduler.NewTimerScheduler(), agent)
	server := stdhttp.NewServer(cfg.Addr, b)

	return &Application{config: cfg, bridge: b, server: server}, nil
}

// Run blocks serving the bridge until ctx is canceled, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	logging.Info("app", "starting bridge %q on %s", a.config.Name, a.config.Addr)
	return a.server.Run(ctx)
}
