package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.gamenight/config.toml.
// Environment variables override file values at run time and are never
// written back.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Auth    ConfigAuth    `toml:"auth"`
	Push    ConfigPush    `toml:"push"`
	Cache   ConfigCache   `toml:"cache"`
	Log     ConfigLog     `toml:"log"`
}

// ConfigDefault holds general SDK settings.
type ConfigDefault struct {
	BaseURL string `toml:"base_url" env:"GAMENIGHT_BASE_URL"`
	Timeout string `toml:"timeout" env:"GAMENIGHT_TIMEOUT"`
}

// ConfigAuth holds the signed-in identity.
type ConfigAuth struct {
	Token  string `toml:"token" env:"GAMENIGHT_TOKEN"`
	UserID string `toml:"user_id" env:"GAMENIGHT_USER_ID"`
}

// ConfigPush selects the push transport: ws, nats, redis or none.
type ConfigPush struct {
	Transport string `toml:"transport" env:"GAMENIGHT_PUSH_TRANSPORT"`
	URL       string `toml:"url" env:"GAMENIGHT_PUSH_URL"`
}

// ConfigCache tunes the relationship cache.
type ConfigCache struct {
	TTL  string `toml:"ttl" env:"GAMENIGHT_CACHE_TTL"`
	Size int    `toml:"size" env:"GAMENIGHT_CACHE_SIZE"`
}

// ConfigLog controls the CLI logger.
type ConfigLog struct {
	Level  string `toml:"level" env:"GAMENIGHT_LOG_LEVEL"`
	Format string `toml:"format" env:"GAMENIGHT_LOG_FORMAT"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.gamenight, creating it if needed.
func configDir() (string, error) {
	if dir := os.Getenv("GAMENIGHT_CONFIG_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0o700)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".gamenight")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// resolveConfig loads the file and applies environment overrides.
func resolveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "auth.token").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. auth.token)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "timeout":
			cfg.Default.Timeout = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "push":
		switch field {
		case "transport":
			switch value {
			case "ws", "nats", "redis", "none", "":
			default:
				return fmt.Errorf("unknown push transport %q (valid: ws, nats, redis, none)", value)
			}
			cfg.Push.Transport = value
		case "url":
			cfg.Push.URL = value
		default:
			return fmt.Errorf("unknown field %q in section [push]", field)
		}
	case "cache":
		switch field {
		case "ttl":
			cfg.Cache.TTL = value
		case "size":
			var n int
			if _, err := fmt.Sscan(value, &n); err != nil || n < 0 {
				return fmt.Errorf("cache.size must be a non-negative integer")
			}
			cfg.Cache.Size = n
		default:
			return fmt.Errorf("unknown field %q in section [cache]", field)
		}
	case "log":
		switch field {
		case "level":
			cfg.Log.Level = value
		case "format":
			cfg.Log.Format = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, push, cache, log)", section)
	}
	return nil
}

// newLogger builds the CLI logger from [log]; text to stderr unless
// format is "json".
func newLogger(cfg ConfigLog) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ============================================================================
// Root command
// ============================================================================

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "gamenight",
	Short: "gamenight SDK CLI",
	Long:  "Command-line interface for the gamenight SDK.\nManage friends, invitations and messages, and watch push events.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger(cfg.Log))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
