// Package config loads and merges Arc's configuration: a YAML file
// (with $include support and ${VAR} environment expansion) overlaid
// with ARC_*-prefixed environment variables, then defaulted and
// validated into a single Config tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the root configuration tree for Arc.
type Config struct {
	Version   int             `yaml:"version"`
	Agent     AgentConfig     `yaml:"agent"`
	Security  SecurityConfig  `yaml:"security"`
	Memory    MemoryConfig    `yaml:"memory"`
	Cost      CostConfig      `yaml:"cost"`
	LLM       LLMConfig       `yaml:"llm"`
	Identity  IdentityConfig  `yaml:"identity"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig governs the Agent Loop's own behavior.
type AgentConfig struct {
	Name          string  `yaml:"name"`
	MaxIterations int     `yaml:"max_iterations"`
	ToolTimeout   int     `yaml:"tool_timeout"`
	Temperature   float64 `yaml:"temperature"`
	ContextRatio  float64 `yaml:"context_ratio"`
	RecentWindow  int     `yaml:"recent_window"`
}

// SecurityConfig drives the Security Engine's capability classification.
type SecurityConfig struct {
	AutoAllow              []string `yaml:"auto_allow"`
	AlwaysAsk              []string `yaml:"always_ask"`
	NeverAllow             []string `yaml:"never_allow"`
	Workspace              string   `yaml:"workspace"`
	AuditEnabled           bool     `yaml:"audit_enabled"`
	ApprovalTimeoutSeconds int      `yaml:"approval_timeout_seconds"`
}

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	Backend           string `yaml:"backend"`
	Path              string `yaml:"path"`
	EnableLongTerm    bool   `yaml:"enable_long_term"`
	EnableEpisodic    bool   `yaml:"enable_episodic"`
	EmbeddingProvider string `yaml:"embedding_provider"`
}

// CostConfig holds token-spend limits. They are loaded and
// warn_at_percent is range-checked; neither the /cost command nor the
// Agent Loop reads them.
type CostConfig struct {
	Enabled         bool    `yaml:"enabled"`
	SessionLimitUSD float64 `yaml:"session_limit_usd"`
	DailyLimitUSD   float64 `yaml:"daily_limit_usd"`
	WarnAtPercent   float64 `yaml:"warn_at_percent"`
}

// LLMConfig configures the default provider plus any named providers
// and a fallback chain list. FallbackChain is loaded but not read by
// any component: no fallback provider is tried when the default fails.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	DefaultModel    string                       `yaml:"default_model"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	FallbackChain   []string                     `yaml:"fallback_chain"`
}

// LLMProviderConfig is one named entry in LLMConfig.Providers.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// IdentityConfig points at the identity.md file the Agent Loop loads
// verbatim into its system prompt.
type IdentityConfig struct {
	Path        string `yaml:"path"`
	AgentName   string `yaml:"agent_name"`
	UserName    string `yaml:"user_name"`
	Personality string `yaml:"personality"`
}

// TelegramConfig holds Telegram bot credentials for the notification
// channel. Configured reports whether both are set.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

// Configured reports whether both a token and chat id are set.
func (c TelegramConfig) Configured() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.ChatID) != ""
}

// SchedulerConfig configures the persistent job store and poll loop.
type SchedulerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	DBPath           string `yaml:"db_path"`
	PollIntervalSecs int    `yaml:"poll_interval"`
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, expands ${VAR} references against the process
// environment, strictly decodes it into a Config (unknown keys are an
// error), applies ARC_*-prefixed environment overrides, fills in
// defaults for anything left unset, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault builds a Config from defaults alone, with no file on
// disk — used by `arc init` and as the fallback when a config file
// cannot be loaded for the log-viewing commands.
func LoadDefault() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "arc"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 25
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 120
	}
	if cfg.Agent.Temperature == 0 {
		cfg.Agent.Temperature = 0.7
	}
	if cfg.Agent.ContextRatio == 0 {
		cfg.Agent.ContextRatio = 0.75
	}
	if cfg.Agent.RecentWindow == 0 {
		cfg.Agent.RecentWindow = 20
	}

	if len(cfg.Security.AutoAllow) == 0 {
		cfg.Security.AutoAllow = []string{"file:read"}
	}
	if len(cfg.Security.AlwaysAsk) == 0 {
		cfg.Security.AlwaysAsk = []string{"file:write", "file:delete", "shell:exec"}
	}
	if cfg.Security.Workspace == "" {
		cfg.Security.Workspace = "."
	}
	if cfg.Security.ApprovalTimeoutSeconds == 0 {
		cfg.Security.ApprovalTimeoutSeconds = 300
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "sqlite"
	}
	if cfg.Memory.Path == "" {
		cfg.Memory.Path = "~/.arc/memory.db"
	}
	if cfg.Memory.EmbeddingProvider == "" {
		cfg.Memory.EmbeddingProvider = "local"
	}

	if cfg.Cost.SessionLimitUSD == 0 {
		cfg.Cost.SessionLimitUSD = 5.0
	}
	if cfg.Cost.DailyLimitUSD == 0 {
		cfg.Cost.DailyLimitUSD = 50.0
	}
	if cfg.Cost.WarnAtPercent == 0 {
		cfg.Cost.WarnAtPercent = 0.8
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}

	if cfg.Identity.Path == "" {
		cfg.Identity.Path = "~/.arc/identity.md"
	}
	if cfg.Identity.AgentName == "" {
		cfg.Identity.AgentName = "Arc"
	}
	if cfg.Identity.Personality == "" {
		cfg.Identity.Personality = "helpful"
	}

	if cfg.Scheduler.DBPath == "" {
		cfg.Scheduler.DBPath = "~/.arc/scheduler.db"
	}
	if cfg.Scheduler.PollIntervalSecs == 0 {
		cfg.Scheduler.PollIntervalSecs = 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

var envMapping = map[string]func(cfg *Config, value string){
	"ARC_LLM_PROVIDER":       func(cfg *Config, v string) { cfg.LLM.DefaultProvider = v },
	"ARC_LLM_MODEL":          func(cfg *Config, v string) { cfg.LLM.DefaultModel = v },
	"ARC_AGENT_NAME":         func(cfg *Config, v string) { cfg.Agent.Name = v },
	"ARC_AGENT_MAX_ITERATIONS": func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	},
	"ARC_AGENT_TEMPERATURE": func(cfg *Config, v string) {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Agent.Temperature = f
		}
	},
	"ARC_SECURITY_WORKSPACE":    func(cfg *Config, v string) { cfg.Security.Workspace = v },
	"ARC_IDENTITY_USER_NAME":    func(cfg *Config, v string) { cfg.Identity.UserName = v },
	"ARC_IDENTITY_AGENT_NAME":   func(cfg *Config, v string) { cfg.Identity.AgentName = v },
	"ARC_IDENTITY_PERSONALITY":  func(cfg *Config, v string) { cfg.Identity.Personality = v },
	"TELEGRAM_BOT_TOKEN":        func(cfg *Config, v string) { cfg.Telegram.Token = v },
	"TELEGRAM_CHAT_ID":          func(cfg *Config, v string) { cfg.Telegram.ChatID = v },
	"ANTHROPIC_API_KEY": func(cfg *Config, v string) {
		setProviderAPIKey(cfg, "anthropic", v)
	},
	"OPENAI_API_KEY": func(cfg *Config, v string) {
		setProviderAPIKey(cfg, "openai", v)
	},
}

func setProviderAPIKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.LLM.Providers[provider]
	entry.APIKey = key
	cfg.LLM.Providers[provider] = entry
}

// applyEnvOverrides applies the highest-precedence layer: a small set
// of well-known environment variables, applied after the file is
// decoded so they always win.
func applyEnvOverrides(cfg *Config) {
	for envVar, apply := range envMapping {
		if value, ok := os.LookupEnv(envVar); ok && strings.TrimSpace(value) != "" {
			apply(cfg, value)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Agent.MaxIterations <= 0 {
		issues = append(issues, "agent.max_iterations must be > 0")
	}
	if cfg.Agent.ContextRatio <= 0 || cfg.Agent.ContextRatio > 1 {
		issues = append(issues, "agent.context_ratio must be in (0, 1]")
	}
	if cfg.Cost.WarnAtPercent < 0 || cfg.Cost.WarnAtPercent > 1 {
		issues = append(issues, "cost.warn_at_percent must be in [0, 1]")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" && len(cfg.LLM.Providers) > 0 {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q (api key may still come from an env var)", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Memory.Backend != "sqlite" && cfg.Memory.Backend != "none" {
		issues = append(issues, fmt.Sprintf("memory.backend %q is not supported (expected \"sqlite\" or \"none\")", cfg.Memory.Backend))
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(issues, "; "))
	}
	return nil
}

// ExpandHome resolves a leading "~" in path to the current user's home
// directory, leaving absolute and relative paths untouched.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
