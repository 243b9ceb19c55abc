package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepmind9/shaken/pkg/constants"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// withoutEnvFiles keeps stray .dev.env files in the test's working directory out of the picture
func withoutEnvFiles(t *testing.T) {
	t.Helper()
	old := EnvFiles
	EnvFiles = nil
	t.Cleanup(func() { EnvFiles = old })
}

const minimalConfig = `
twitch:
  name: "Shaken_Bot"
  oauth_token: "oauth:${TEST_SHAKEN_TOKEN}"
  channels: ["#Museun", "shaken_bot", ""]
paths:
  scripts: "./scripts"
  data: "./data"
`

func TestLoadConfig_ValidConfig_AppliesDefaults(t *testing.T) {
	withoutEnvFiles(t)
	t.Setenv("TEST_SHAKEN_TOKEN", "abcdefghijklmnop")

	config, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "shaken_bot", config.Twitch.Name)
	assert.Equal(t, "abcdefghijklmnop", config.Twitch.OAuthToken)
	assert.Equal(t, []string{"museun", "shaken_bot"}, config.Twitch.Channels)
	assert.Equal(t, constants.TwitchIRCAddress, config.Twitch.Address)

	assert.Equal(t, filepath.Join("scripts", "init.lua"), config.ManifestPath())
	assert.Equal(t, filepath.Join("data", "aliases.db"), config.AliasesPath())

	assert.Equal(t, constants.DefaultReconnectBackoff, config.Reconnect.Backoff)
	assert.Equal(t, constants.DefaultPingWindow, config.Reconnect.PingWindow)
	assert.Equal(t, constants.DefaultRegistrationTimeout, config.Reconnect.RegistrationTimeout)

	assert.False(t, config.History.Enabled)
	assert.Equal(t, constants.DefaultHistoryMaxBatch, config.History.MaxBatch)
	assert.Equal(t, DefaultMetricsAddr, config.Metrics.Addr)

	assert.Equal(t, DefaultLogLevel, config.Logging.Level)
	assert.Equal(t, DefaultLogMaxSize, config.Logging.MaxSize)
	assert.Equal(t, DefaultLogMaxBackups, config.Logging.MaxBackups)
	assert.True(t, config.Logging.Compress)
	assert.True(t, config.Logging.EnableStdout)
}

func TestLoadConfig_FullConfig_KeepsValues(t *testing.T) {
	withoutEnvFiles(t)
	t.Setenv("TEST_SHAKEN_TOKEN", "abcdefghijklmnop")

	config, err := LoadConfig(writeConfig(t, minimalConfig+`
  manifest: "/etc/shaken/main.lua"
  aliases: "other.db"
reconnect:
  backoff: 2s
  ping_window: 1m
history:
  enabled: true
  dsn: "postgres://localhost/shaken"
  flush_every: 250ms
metrics:
  enabled: true
  addr: "127.0.0.1:9100"
logging:
  level: debug
  compress: false
  enable_stdout: false
`))
	require.NoError(t, err)

	assert.Equal(t, "/etc/shaken/main.lua", config.ManifestPath())
	assert.Equal(t, filepath.Join("data", "other.db"), config.AliasesPath())
	assert.Equal(t, 2*time.Second, config.Reconnect.Backoff)
	assert.Equal(t, time.Minute, config.Reconnect.PingWindow)
	assert.True(t, config.History.Enabled)
	assert.Equal(t, 250*time.Millisecond, config.History.FlushEvery)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", config.Metrics.Addr)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.False(t, config.Logging.Compress)
	assert.False(t, config.Logging.EnableStdout)
}

func TestLoadConfig_MissingFields_ReturnsError(t *testing.T) {
	withoutEnvFiles(t)

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "empty file",
			content: "{}",
			want:    []string{"twitch.name", "twitch.oauth_token", "twitch.channels", "paths.scripts", "paths.data"},
		},
		{
			name: "history without dsn",
			content: `
twitch: {name: bot, oauth_token: token, channels: [a]}
paths: {scripts: s, data: d}
history: {enabled: true}
`,
			want: []string{"history.dsn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, ErrInvalidConfig)
			for _, field := range tt.want {
				assert.Contains(t, err.Error(), field+" is required")
			}
		})
	}
}

func TestLoadConfig_MissingEnvVar_ReturnsError(t *testing.T) {
	withoutEnvFiles(t)

	_, err := LoadConfig(writeConfig(t, `twitch: {oauth_token: "${TEST_SHAKEN_UNSET_VAR}"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_SHAKEN_UNSET_VAR")
}

func TestLoadConfig_InvalidYAML_ReturnsError(t *testing.T) {
	withoutEnvFiles(t)

	_, err := LoadConfig(writeConfig(t, "twitch: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadConfig_MissingFile_ReturnsError(t *testing.T) {
	withoutEnvFiles(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EnvFile_ProvidesVariables(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".secrets.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TEST_SHAKEN_TOKEN=fromfile1234567\n"), 0644))

	old := EnvFiles
	EnvFiles = []string{filepath.Join(t.TempDir(), ".dev.env"), envFile}
	t.Cleanup(func() {
		EnvFiles = old
		os.Unsetenv("TEST_SHAKEN_TOKEN")
	})

	config, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "fromfile1234567", config.Twitch.OAuthToken)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandHome("~/scripts")
	require.NoError(t, err)
	assert.Equal(t, home+"/scripts", got)

	got, err = expandHome("/abs/scripts")
	require.NoError(t, err)
	assert.Equal(t, "/abs/scripts", got)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		secret string
		want   string
	}{
		{"", "***"},
		{"short", "***"},
		{"0123456789", "***"},
		{"abcdefghijklmnop", "abcd***op"},
	}
	for _, tt := range tests {
		t.Run(tt.secret, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecret(tt.secret))
		})
	}
}
