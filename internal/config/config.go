// Package config loads CLI defaults from a YAML file.
package config

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"time"

	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// EnvVar names the file used when --config is not given.
const EnvVar = "PARALLEL_SYNC_CONFIG"

// Config mirrors the CLI flags. Zero fields leave the flag default alone.
type Config struct {
	Host          string        `yaml:"host,omitempty"`
	User          string        `yaml:"user,omitempty"`
	Port          int           `yaml:"port,omitempty"`
	Key           string        `yaml:"key,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	Tries         int           `yaml:"tries,omitempty"`
	Parallelism   int           `yaml:"parallelism,omitempty"`
	Include       string        `yaml:"include,omitempty"`
	Exclude       []string      `yaml:"exclude,omitempty"`
	Extract       bool          `yaml:"extract,omitempty"`
	Validate      bool          `yaml:"validate,omitempty"`
	TransportArgs []string      `yaml:"transport_args,omitempty"`
	Debug         bool          `yaml:"debug,omitempty"`
}

// Load reads path, or the file named by $PARALLEL_SYNC_CONFIG when path is
// empty. No file at all yields a zero Config; a named file that is missing
// is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Errorf("config file %s does not exist", path)
	}
	if err != nil {
		return nil, errors.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML. Unknown keys are rejected so typos do not pass
// silently.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Errorf("parsing YAML: %w", err)
	}
	return &cfg, nil
}
