package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arc-run/arc/internal/config"
	"github.com/arc-run/arc/internal/identity"
)

// configPath is bound to the root command's --config flag.
var configPath string

// defaultConfigPath returns Arc's standard per-user config location.
func defaultConfigPath() string {
	path, err := config.ExpandHome("~/.arc/config.yaml")
	if err != nil {
		return "config.yaml"
	}
	return path
}

// resolveConfigPath applies the same precedence as the rest of Arc's
// configuration layering: an explicit --config flag first, then
// ARC_CONFIG, then the per-user default.
func resolveConfigPath() string {
	if strings.TrimSpace(configPath) != "" {
		return configPath
	}
	if env := strings.TrimSpace(os.Getenv("ARC_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath()
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arc",
		Short: "Arc — an agent runtime with background delegation and approval-gated tools",
		Long: `Arc runs a single conversational agent loop over an event bus, with a
capability-gated security engine, background workers, and a cron-style
scheduler, wired together by a kernel composition root.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.arc/config.yaml, or $ARC_CONFIG)")

	rootCmd.AddCommand(
		buildInitCmd(),
		buildChatCmd(),
		buildWorkersCmd(),
		buildLogsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "First-time setup: write config.yaml and identity.md",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}

			cfg := config.LoadDefault()
			cfg.Version = 1

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create config dir: %w", err)
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			if err := identity.Save(cfg.Identity, defaultIdentityText(cfg.Identity.AgentName)); err != nil {
				return fmt.Errorf("write identity: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", path)
			identityPath, _ := config.ExpandHome(cfg.Identity.Path)
			fmt.Fprintf(out, "Wrote %s\n", identityPath)
			fmt.Fprintln(out, "Run `arc chat` to start.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func defaultIdentityText(agentName string) string {
	if agentName == "" {
		agentName = "arc"
	}
	return fmt.Sprintf("# %s\n\nYou are %s, a direct and capable assistant. You delegate long-running "+
		"work to background workers rather than blocking the conversation, and "+
		"you ask before taking an action that needs approval.\n", agentName, agentName)
}

func buildChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no configuration at %s — run `arc init` first", path)
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			app, err := buildApp(cfg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			defer app.Shutdown(context.Background())

			return app.RunChat(ctx)
		},
	}
}

func buildWorkersCmd() *cobra.Command {
	var follow bool
	var lines int
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Tail the worker activity log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefault()
			path, err := config.ExpandHome(workerActivityLogPath(cfg))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if follow {
				var cancel context.CancelFunc
				ctx, cancel = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
			}
			return tailFile(ctx, cmd.OutOrStdout(), path, lines, follow)
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "keep reading as new lines arrive")
	cmd.Flags().IntVar(&lines, "lines", 20, "number of trailing lines to show")
	return cmd
}

func buildLogsCmd() *cobra.Command {
	var events bool
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail the application log or the structured event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefault()
			var path string
			var err error
			if events {
				path, err = config.ExpandHome(eventJournalPath(cfg))
			} else {
				path, err = config.ExpandHome(appLogPath(cfg))
			}
			if err != nil {
				return err
			}
			return tailFile(cmd.Context(), cmd.OutOrStdout(), path, lines, false)
		},
	}
	cmd.Flags().BoolVar(&events, "events", false, "tail the structured event journal instead of the application log")
	cmd.Flags().IntVar(&lines, "lines", 20, "number of trailing lines to show")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "arc %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// loadConfigOrDefault is used by read-only log-tailing commands, which
// shouldn't fail just because init hasn't been run yet — it falls
// back to in-memory defaults so the log paths still resolve.
func loadConfigOrDefault() *config.Config {
	path := resolveConfigPath()
	if cfg, err := config.Load(path); err == nil {
		return cfg
	}
	return config.LoadDefault()
}
