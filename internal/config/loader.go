package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDataDir = ".hostbridge"
	ConfigFileName = "hostbridge.json"
	EnvPrefix      = "HOSTBRIDGE"
)

// FlagBindings maps CLI flag names to configuration keys.
var FlagBindings = map[string]string{
	"data-dir":        "data-dir",
	"listen":          "listen",
	"log-level":       "logging.level",
	"log-dir":         "logging.log-dir",
	"log-to-file":     "logging.enable-file",
	"url":             "update.url",
	"source":          "update.source",
	"mode":            "update.mode",
	"start-delay-ms":  "update.start-delay-ms",
	"comparator":      "update.comparator",
	"api-base-url":    "update.api-base-url",
	"notify":          "update.notify",
	"metrics":         "observability.metrics.enabled",
	"tracing":         "observability.tracing.enabled",
	"otlp-endpoint":   "observability.tracing.otlp-endpoint",
	"outbox-size":     "bridge.outbox-size",
	"check-on-start":  "update.check-on-start",
	"history-keep":    "update.history-keep",
	"token-account":   "update.token-account",
	"update-temp-dir": "update.temp-dir",
}

// override applies one viper key to cfg.
type override func(v *viper.Viper, key string, cfg *Config)

func stringKey(dst func(*Config) *string) override {
	return func(v *viper.Viper, key string, cfg *Config) { *dst(cfg) = v.GetString(key) }
}

func intKey(dst func(*Config) *int) override {
	return func(v *viper.Viper, key string, cfg *Config) { *dst(cfg) = v.GetInt(key) }
}

func boolKey(dst func(*Config) *bool) override {
	return func(v *viper.Viper, key string, cfg *Config) { *dst(cfg) = v.GetBool(key) }
}

// overrides lists every key settable from env vars and flags.
var overrides = map[string]override{
	"data-dir":                            stringKey(func(c *Config) *string { return &c.DataDir }),
	"listen":                              stringKey(func(c *Config) *string { return &c.Listen }),
	"update.url":                          stringKey(func(c *Config) *string { return &c.Update.URL }),
	"update.source":                       stringKey(func(c *Config) *string { return &c.Update.Source }),
	"update.mode":                         stringKey(func(c *Config) *string { return &c.Update.Mode }),
	"update.start-delay-ms":               intKey(func(c *Config) *int { return &c.Update.StartDelayMs }),
	"update.comparator":                   stringKey(func(c *Config) *string { return &c.Update.Comparator }),
	"update.api-base-url":                 stringKey(func(c *Config) *string { return &c.Update.APIBaseURL }),
	"update.token-account":                stringKey(func(c *Config) *string { return &c.Update.TokenAccount }),
	"update.token-env":                    stringKey(func(c *Config) *string { return &c.Update.TokenEnv }),
	"update.temp-dir":                     stringKey(func(c *Config) *string { return &c.Update.TempDir }),
	"update.history-keep":                 intKey(func(c *Config) *int { return &c.Update.HistoryKeep }),
	"update.notify":                       boolKey(func(c *Config) *bool { return &c.Update.Notify }),
	"update.check-on-start":               boolKey(func(c *Config) *bool { return &c.Update.CheckOnStart }),
	"bridge.outbox-size":                  intKey(func(c *Config) *int { return &c.Bridge.OutboxSize }),
	"logging.level":                       stringKey(func(c *Config) *string { return &c.Logging.Level }),
	"logging.log-dir":                     stringKey(func(c *Config) *string { return &c.Logging.LogDir }),
	"logging.enable-file":                 boolKey(func(c *Config) *bool { return &c.Logging.EnableFile }),
	"logging.json-format":                 boolKey(func(c *Config) *bool { return &c.Logging.JSONFormat }),
	"observability.metrics.enabled":       boolKey(func(c *Config) *bool { return &c.Observability.Metrics.Enabled }),
	"observability.tracing.enabled":       boolKey(func(c *Config) *bool { return &c.Observability.Tracing.Enabled }),
	"observability.tracing.otlp-endpoint": stringKey(func(c *Config) *string { return &c.Observability.Tracing.OTLPEndpoint }),
}

// Load builds the configuration: defaults, then the config file (explicit path or
// the first one found), then HOSTBRIDGE_* environment variables and changed flags.
// flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := LoadFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}
	if cfg.Logging == nil {
		cfg.Logging = DefaultConfig().Logging
	}

	v, err := newViper(flags)
	if err != nil {
		return nil, err
	}
	for key, apply := range overrides {
		if v.IsSet(key) {
			apply(v, key, cfg)
		}
	}

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper configures a private viper instance with env and flag bindings.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	for key := range overrides {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if flags != nil {
		for name, key := range FlagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}
	return v, nil
}

// LoadFile decodes a JSON, TOML or YAML file into cfg by extension. An empty file
// leaves cfg unchanged.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	}
	return nil
}

// SaveConfig writes cfg as indented JSON.
func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file in the data directory
func GetConfigPath(dataDir string) string {
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	return filepath.Join(dataDir, ConfigFileName)
}

// findConfigFile looks in the working directory, then the default data directory.
func findConfigFile() string {
	locations := []string{ConfigFileName}
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
