package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepmind9/shaken/internal/irc"
)

func validateConfigFor(t *testing.T, manifest string) *Config {
	t.Helper()
	scripts := t.TempDir()
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(scripts, DefaultManifestFile), []byte(manifest), 0644))
	}
	return &Config{Paths: PathsConfig{
		Scripts:  scripts,
		Data:     filepath.Join(t.TempDir(), "data"),
		Manifest: DefaultManifestFile,
	}}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  bool
		commands int
		problems []string
	}{
		{
			name: "valid",
			manifest: `return { commands = { m = {
  { command = "!a", help = "a", handler = function() end },
  { command = "!b", args = "<x>", help = "b", handler = function() end },
} } }`,
			commands: 2,
		},
		{
			name: "bad template",
			manifest: `return { commands = { m = {
  { command = "!a", args = "<a> <b?>", help = "a", handler = function() end },
} } }`,
			problems: []string{"invalid args for `!a` in `m[1]`"},
		},
		{name: "syntax error", manifest: "return {", wantErr: true},
		{name: "missing manifest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Validate(context.Background(), validateConfigFor(t, tt.manifest))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.commands, report.Commands)
			require.Len(t, report.Problems, len(tt.problems))
			for i, p := range tt.problems {
				assert.Contains(t, report.Problems[i], p)
			}
		})
	}
}

func TestWaitClosed(t *testing.T) {
	events := make(chan irc.Event, 1)
	events <- irc.Event{Kind: irc.EventDisconnected}
	close(events)

	start := time.Now()
	waitClosed(events, time.Second)
	assert.Less(t, time.Since(start), time.Second)

	open := make(chan irc.Event)
	start = time.Now()
	waitClosed(open, 20*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
