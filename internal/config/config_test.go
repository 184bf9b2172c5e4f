package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
host: build-01
user: deploy
port: 2222
key: ~/.ssh/deploy
timeout: 15s
tries: 5
parallelism: 20
include: "*.log"
exclude:
  - "*.tmp"
  - cache
extract: true
validate: true
transport_args: ["--partial"]
`))
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Host:          "build-01",
		User:          "deploy",
		Port:          2222,
		Key:           "~/.ssh/deploy",
		Timeout:       15 * time.Second,
		Tries:         5,
		Parallelism:   20,
		Include:       "*.log",
		Exclude:       []string{"*.tmp", "cache"},
		Extract:       true,
		Validate:      true,
		TransportArgs: []string{"--partial"},
	}, cfg)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "hots: typo\n"},
		{"bad duration", "timeout: soon\n"},
		{"wrong type", "tries: many\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parallel-sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: from-file\n"), 0o644))

	t.Run("explicit path", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.Host)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(EnvVar, path)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.Host)
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, &Config{}, cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})
}
