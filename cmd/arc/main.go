// Package main provides the CLI entry point for Arc, an agent runtime
// built around an event bus, a capability-gated security engine, and
// background delegation to worker and scheduled sub-agents.
//
// # Basic usage
//
//	arc init            # first-time setup: writes config.yaml and identity.md
//	arc chat             # interactive chat session
//	arc workers --follow # tail the worker activity log
//	arc logs --events    # tail the structured event journal
//	arc config            # print the resolved configuration
//	arc version            # print build info
//
// # Environment variables
//
//   - ARC_CONFIG: path to the configuration file
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: provider credentials
//   - TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID: notification channel
package main

import (
	"log/slog"
	"os"
)

// Build information, populated by ldflags during release builds.
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
