package config

import (
	"time"

	"github.com/raumlabs/hostbridge/internal/observability"
	"github.com/raumlabs/hostbridge/internal/update"
)

const (
	// AppName is used for the update temp directory and service names.
	AppName = "hostbridge"

	defaultStartDelayMs = 1000
	defaultHistoryKeep  = 100
	defaultOutboxSize   = 64
)

// Config represents the main configuration structure
type Config struct {
	DataDir string `json:"data_dir" toml:"data_dir" yaml:"data_dir" mapstructure:"data-dir"`
	// Listen is the API endpoint: unix://path, npipe://name or host:port.
	// Empty selects the platform socket in DataDir.
	Listen string `json:"listen" toml:"listen" yaml:"listen" mapstructure:"listen"`

	Update        UpdateConfig         `json:"update" toml:"update" yaml:"update" mapstructure:"update"`
	Bridge        BridgeConfig         `json:"bridge" toml:"bridge" yaml:"bridge" mapstructure:"bridge"`
	Logging       *LogConfig           `json:"logging,omitempty" toml:"logging" yaml:"logging,omitempty" mapstructure:"logging"`
	Observability observability.Config `json:"observability" toml:"observability" yaml:"observability" mapstructure:"observability"`
}

// UpdateConfig configures the self-update cycle.
type UpdateConfig struct {
	// URL is the manifest base URL (source http) or "owner/repo" (source git).
	URL          string `json:"url" toml:"url" yaml:"url" mapstructure:"url"`
	Source       string `json:"source" toml:"source" yaml:"source" mapstructure:"source"`
	Mode         string `json:"mode" toml:"mode" yaml:"mode" mapstructure:"mode"`
	StartDelayMs int    `json:"start_delay_ms" toml:"start_delay_ms" yaml:"start_delay_ms" mapstructure:"start-delay-ms"`
	// Comparator is "digits" (default) or "semver".
	Comparator   string `json:"comparator,omitempty" toml:"comparator" yaml:"comparator,omitempty" mapstructure:"comparator"`
	APIBaseURL   string `json:"api_base_url,omitempty" toml:"api_base_url" yaml:"api_base_url,omitempty" mapstructure:"api-base-url"`
	TokenAccount string `json:"token_account,omitempty" toml:"token_account" yaml:"token_account,omitempty" mapstructure:"token-account"`
	TokenEnv     string `json:"token_env,omitempty" toml:"token_env" yaml:"token_env,omitempty" mapstructure:"token-env"`
	TempDir      string `json:"temp_dir,omitempty" toml:"temp_dir" yaml:"temp_dir,omitempty" mapstructure:"temp-dir"`
	HistoryKeep  int    `json:"history_keep" toml:"history_keep" yaml:"history_keep" mapstructure:"history-keep"`
	Notify       bool   `json:"notify" toml:"notify" yaml:"notify" mapstructure:"notify"`
	CheckOnStart bool   `json:"check_on_start" toml:"check_on_start" yaml:"check_on_start" mapstructure:"check-on-start"`
}

// StartDelay returns the configured delay before the first check.
func (u UpdateConfig) StartDelay() time.Duration {
	return time.Duration(u.StartDelayMs) * time.Millisecond
}

// BridgeConfig configures the view transport.
type BridgeConfig struct {
	OutboxSize int `json:"outbox_size" toml:"outbox_size" yaml:"outbox_size" mapstructure:"outbox-size"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" toml:"level" yaml:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" toml:"enable_file" yaml:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" toml:"enable_console" yaml:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" toml:"filename" yaml:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" toml:"log_dir" yaml:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" toml:"max_size" yaml:"max_size" mapstructure:"max-size"`             // MB
	MaxBackups    int    `json:"max_backups" toml:"max_backups" yaml:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" toml:"max_age" yaml:"max_age" mapstructure:"max-age"`                 // days
	Compress      bool   `json:"compress" toml:"compress" yaml:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" toml:"json_format" yaml:"json_format" mapstructure:"json-format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Update: UpdateConfig{
			Source:       string(update.SourceHTTP),
			Mode:         string(update.ModeSilent),
			StartDelayMs: defaultStartDelayMs,
			Comparator:   update.CompareDigits,
			HistoryKeep:  defaultHistoryKeep,
			Notify:       true,
		},
		Bridge: BridgeConfig{
			OutboxSize: defaultOutboxSize,
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    true,
			EnableConsole: true,
			Filename:      "hostbridge.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
		Observability: observability.DefaultConfig(AppName, "dev"),
	}
}
