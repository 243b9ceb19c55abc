// Package core hosts the bot: configuration loading and the event loop that
// ties the connection manager, the script manifest and the optional chat
// history together.
//
// # Configuration
//
// Configuration is loaded from a YAML file with the following sections:
//
//   - twitch: login name, OAuth token and channels to join
//   - paths: scripts directory, manifest file, data directory, alias database
//   - reconnect: backoff and keepalive timing
//   - history: optional Postgres chat history
//   - metrics: optional Prometheus endpoint
//   - logging: log configuration
//
// # Example Configuration
//
//	twitch:
//	  name: "shaken_bot"
//	  oauth_token: "${SHAKEN_TWITCH_OAUTH_TOKEN}"
//	  channels: ["museun"]
//	paths:
//	  scripts: "./scripts"
//	  data: "./data"
//	history:
//	  enabled: true
//	  dsn: "${SHAKEN_HISTORY_DSN}"
//	metrics:
//	  enabled: true
//	  addr: ":9090"
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/keepmind9/shaken/pkg/constants"
)

const (
	DefaultLogLevel        = "info"
	DefaultLogMaxSize      = constants.DefaultLogMaxSize // MB
	DefaultLogMaxBackups   = 5
	DefaultLogMaxAge       = constants.DefaultLogMaxAge // days
	DefaultLogCompress     = true
	DefaultLogEnableStdout = true

	DefaultManifestFile = "init.lua"
	DefaultAliasesFile  = "aliases.db"
	DefaultMetricsAddr  = ":9090"
)

// EnvFiles are loaded, when present, before the config file is expanded.
// Variables already set in the environment win.
var EnvFiles = []string{".dev.env", ".secrets.env"}

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Twitch    TwitchConfig    `yaml:"twitch"`
	Paths     PathsConfig     `yaml:"paths"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TwitchConfig struct {
	Name       string   `yaml:"name"`
	OAuthToken string   `yaml:"oauth_token"`
	Channels   []string `yaml:"channels"`
	// Address overrides the Twitch chat endpoint
	Address string `yaml:"address"`
}

type PathsConfig struct {
	Scripts string `yaml:"scripts"`
	// Manifest is relative to Scripts unless absolute
	Manifest string `yaml:"manifest"`
	Data     string `yaml:"data"`
	// Aliases is relative to Data unless absolute
	Aliases string `yaml:"aliases"`
}

type ReconnectConfig struct {
	Backoff             time.Duration `yaml:"backoff"`
	PingWindow          time.Duration `yaml:"ping_window"`
	RegistrationTimeout time.Duration `yaml:"registration_timeout"`
}

type HistoryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	DSN        string        `yaml:"dsn"`
	MaxBatch   int           `yaml:"max_batch"`
	FlushEvery time.Duration `yaml:"flush_every"`
	Buffer     int           `yaml:"buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	File         string `yaml:"file"`
	MaxSize      int    `yaml:"max_size"`
	MaxBackups   int    `yaml:"max_backups"`
	MaxAge       int    `yaml:"max_age"`
	Compress     bool   `yaml:"compress"`
	EnableStdout bool   `yaml:"enable_stdout"`
}

// LoadConfig loads configuration from file and expands environment variables
func LoadConfig(configPath string) (*Config, error) {
	if err := loadEnvFiles(EnvFiles...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	// Compress and EnableStdout default to true, so they are preset before parsing
	config := Config{
		Logging: LoggingConfig{
			Compress:     DefaultLogCompress,
			EnableStdout: DefaultLogEnableStdout,
		},
	}
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func loadEnvFiles(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return ""
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

// validateConfig fills in defaults and rejects incomplete configuration
func validateConfig(config *Config) error {
	var problems []string
	require := func(ok bool, field string) {
		if !ok {
			problems = append(problems, field+" is required")
		}
	}

	// Twitch
	config.Twitch.Name = strings.ToLower(strings.TrimSpace(config.Twitch.Name))
	config.Twitch.OAuthToken = strings.TrimPrefix(strings.TrimSpace(config.Twitch.OAuthToken), "oauth:")
	require(config.Twitch.Name != "", "twitch.name")
	require(config.Twitch.OAuthToken != "", "twitch.oauth_token")

	var channels []string
	for _, ch := range config.Twitch.Channels {
		ch = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
		if ch != "" {
			channels = append(channels, ch)
		}
	}
	config.Twitch.Channels = channels
	require(len(channels) > 0, "twitch.channels")
	if config.Twitch.Address == "" {
		config.Twitch.Address = constants.TwitchIRCAddress
	}

	// Paths
	var err error
	require(config.Paths.Scripts != "", "paths.scripts")
	require(config.Paths.Data != "", "paths.data")
	if config.Paths.Scripts, err = expandHome(config.Paths.Scripts); err != nil {
		return err
	}
	if config.Paths.Data, err = expandHome(config.Paths.Data); err != nil {
		return err
	}
	if config.Paths.Manifest == "" {
		config.Paths.Manifest = DefaultManifestFile
	}
	if config.Paths.Aliases == "" {
		config.Paths.Aliases = DefaultAliasesFile
	}

	// Reconnect
	if config.Reconnect.Backoff <= 0 {
		config.Reconnect.Backoff = constants.DefaultReconnectBackoff
	}
	if config.Reconnect.PingWindow <= 0 {
		config.Reconnect.PingWindow = constants.DefaultPingWindow
	}
	if config.Reconnect.RegistrationTimeout <= 0 {
		config.Reconnect.RegistrationTimeout = constants.DefaultRegistrationTimeout
	}

	// History
	if config.History.Enabled {
		require(config.History.DSN != "", "history.dsn")
	}
	if config.History.MaxBatch <= 0 {
		config.History.MaxBatch = constants.DefaultHistoryMaxBatch
	}
	if config.History.FlushEvery <= 0 {
		config.History.FlushEvery = constants.DefaultHistoryFlushEvery
	}
	if config.History.Buffer <= 0 {
		config.History.Buffer = constants.DefaultHistoryBuffer
	}

	// Metrics
	if config.Metrics.Addr == "" {
		config.Metrics.Addr = DefaultMetricsAddr
	}

	// Logging
	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = DefaultLogMaxAge
	}
	if config.Logging.File != "" {
		if config.Logging.File, err = expandHome(config.Logging.File); err != nil {
			return err
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, ", "))
	}
	return nil
}

// expandHome expands ~ to user's home directory
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return home + path[1:], nil
	}
	return path, nil
}

// ManifestPath is the full path of the manifest file
func (c *Config) ManifestPath() string {
	return resolve(c.Paths.Scripts, c.Paths.Manifest)
}

// AliasesPath is the full path of the alias database
func (c *Config) AliasesPath() string {
	return resolve(c.Paths.Data, c.Paths.Aliases)
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// MaskSecret masks sensitive information for logging
func MaskSecret(s string) string {
	if len(s) <= constants.MinSecretLengthForMasking {
		return "***"
	}
	return s[:constants.SecretMaskPrefixLength] + "***" + s[len(s)-constants.SecretMaskSuffixLength:]
}
