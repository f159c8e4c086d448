package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/taployalty/tapagent/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Registry  RegistryConfig  `koanf:"registry"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Runner    RunnerConfig    `koanf:"runner"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Models    ModelsConfig    `koanf:"models"`
	Notify    NotifyConfig    `koanf:"notify"`
	Daemon    DaemonConfig    `koanf:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
	InboxSize    int    `koanf:"inbox_size"`
}

type RegistryConfig struct {
	IdempotencyTTL string `koanf:"idempotency_ttl"`
}

type SchedulerConfig struct {
	TickInterval         string `koanf:"tick_interval"`
	ShutdownTimeout      string `koanf:"shutdown_timeout"`
	LeaseDuration        string `koanf:"lease_duration"`
	MaxCatchupRuns       int    `koanf:"max_catchup_runs"`
	InFlightPollInterval string `koanf:"in_flight_poll_interval"`
}

type RunnerConfig struct {
	QueueSize       int    `koanf:"queue_size"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type UpstreamConfig struct {
	Trigger    TriggerConfig    `koanf:"trigger"`
	Categorize CategorizeConfig `koanf:"categorize"`
	Tools      ToolsConfig      `koanf:"tools"`
}

type TriggerConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type CategorizeConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type ToolsConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type ModelsConfig struct {
	Default   string          `koanf:"default"`
	Fallback  string          `koanf:"fallback"`
	Embedding string          `koanf:"embedding"`
	Registry  []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type NotifyConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	Channel  string `koanf:"channel"`
}

type TelegramConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	ChatID   int64  `koanf:"chat_id"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
	PreflightTimeout       string `koanf:"preflight_timeout"`
	StaleLockTTL           string `koanf:"stale_lock_ttl"`
	DataPath               string `koanf:"data_path"`
}

const (
	DefaultServerPort              = 8080
	DefaultServerLogLevel          = "info"
	DefaultServerReadTimeout       = "10s"
	DefaultServerWriteTimeout      = "10s"
	DefaultServerIdleTimeout       = "60s"
	DefaultServerShutdownTimeout   = "5s"
	DefaultStoreLockTimeout        = "30s"
	DefaultStoreLockRetry          = "100ms"
	DefaultStoreLockMaxRetry       = 300
	DefaultStoreInboxSize          = 100
	DefaultRegistryIdempotencyTTL  = "24h"
	DefaultSchedulerTickInterval   = "1m"
	DefaultSchedulerShutdownTTL    = "30s"
	DefaultSchedulerLeaseDuration  = "5m"
	DefaultSchedulerMaxCatchupRuns = 1
	DefaultSchedulerInFlightPoll   = "100ms"
	DefaultRunnerQueueSize         = 100
	DefaultRunnerShutdownTimeout   = "30s"
	DefaultTriggerBaseURL          = "https://functions.taployalty.dev/registerGmailTrigger"
	DefaultTriggerTimeout          = "15s"
	DefaultCategorizeBaseURL       = "https://functions.taployalty.dev/categorizeEmails"
	DefaultCategorizeTimeout       = "10s"
	DefaultToolsBaseURL            = "https://functions.taployalty.dev/tools"
	DefaultToolsTimeout            = "10s"
	DefaultModelDefault            = "gpt-4-turbo"
	DefaultModelFallback           = "claude-3-haiku"
	DefaultModelEmbedding          = "text-embedding-3-small"
	DefaultDaemonShutdownTimeout   = "30s"
	DefaultDaemonHealthInterval    = "30s"
	DefaultDaemonStartupShutdown   = "10s"
	DefaultDaemonPreflightTimeout  = "10s"
	DefaultDaemonStaleLockTTL      = "15m"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                       DefaultServerPort,
		"server.log_level":                  DefaultServerLogLevel,
		"server.read_timeout":               DefaultServerReadTimeout,
		"server.write_timeout":              DefaultServerWriteTimeout,
		"server.idle_timeout":               DefaultServerIdleTimeout,
		"server.shutdown_timeout":           DefaultServerShutdownTimeout,
		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMaxRetry,
		"store.inbox_size":                  DefaultStoreInboxSize,
		"registry.idempotency_ttl":          DefaultRegistryIdempotencyTTL,
		"scheduler.tick_interval":           DefaultSchedulerTickInterval,
		"scheduler.shutdown_timeout":        DefaultSchedulerShutdownTTL,
		"scheduler.lease_duration":          DefaultSchedulerLeaseDuration,
		"scheduler.max_catchup_runs":        DefaultSchedulerMaxCatchupRuns,
		"scheduler.in_flight_poll_interval": DefaultSchedulerInFlightPoll,
		"runner.queue_size":                 DefaultRunnerQueueSize,
		"runner.shutdown_timeout":           DefaultRunnerShutdownTimeout,
		"upstream.trigger.base_url":         DefaultTriggerBaseURL,
		"upstream.trigger.timeout":          DefaultTriggerTimeout,
		"upstream.categorize.base_url":      DefaultCategorizeBaseURL,
		"upstream.categorize.timeout":       DefaultCategorizeTimeout,
		"upstream.tools.base_url":           DefaultToolsBaseURL,
		"upstream.tools.timeout":            DefaultToolsTimeout,
		"models.default":                    DefaultModelDefault,
		"models.fallback":                   DefaultModelFallback,
		"models.embedding":                  DefaultModelEmbedding,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
		},
		"daemon.shutdown_timeout":          DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":     DefaultDaemonHealthInterval,
		"daemon.startup_shutdown_timeout":  DefaultDaemonStartupShutdown,
		"daemon.preflight_timeout":         DefaultDaemonPreflightTimeout,
		"daemon.stale_lock_ttl":            DefaultDaemonStaleLockTTL,
		"daemon.data_path":                 filepath.Join(os.Getenv("HOME"), ".tapagent", "data"),
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".tapagent", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("TAPAGENT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TAPAGENT_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	dataPath, err := expandConfiguredPath(cfg.Daemon.DataPath)
	if err != nil {
		return err
	}
	if dataPath != "" {
		cfg.Daemon.DataPath = dataPath
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
