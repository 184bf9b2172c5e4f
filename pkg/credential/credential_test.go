package credential

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c, err := New("u", "h")
	require.NoError(t, err)

	assert.Equal(t, "u", c.Username())
	assert.Equal(t, "h", c.Hostname())
	assert.Equal(t, 22, c.Port())
	assert.Equal(t, 10*time.Second, c.Timeout())
	assert.Empty(t, c.KeyFile())
	assert.Equal(t, "h:22", c.Address())
	assert.Equal(t, "u@h", c.Target())
}

func TestNewOptions(t *testing.T) {
	c, err := New("u", "h", WithPort(3022), WithKey("k"), WithTimeout(time.Second))
	require.NoError(t, err)

	assert.Equal(t, 3022, c.Port())
	assert.Equal(t, "k", c.KeyFile())
	assert.Equal(t, time.Second, c.Timeout())
	assert.Equal(t, "u@h:3022", c.String())
}

func TestWithKeyExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	c, err := New("u", "h", WithKey("~/.ssh/id_rsa"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh/id_rsa"), c.KeyFile())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		username string
		hostname string
		opts     []Option
	}{
		{name: "missing host", username: "u", hostname: ""},
		{name: "blank host", username: "u", hostname: "  "},
		{name: "missing user", username: "", hostname: "h"},
		{name: "bad port", username: "u", hostname: "h", opts: []Option{WithPort(0)}},
		{name: "port too large", username: "u", hostname: "h", opts: []Option{WithPort(70000)}},
		{name: "zero timeout", username: "u", hostname: "h", opts: []Option{WithTimeout(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.username, tt.hostname, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestZeroValueIsInvalid(t *testing.T) {
	assert.ErrorIs(t, Credential{}.Validate(), ErrInvalidArgument)
}
