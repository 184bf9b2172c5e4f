// Package credential describes how to reach a remote endpoint.
package credential

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 10 * time.Second
)

// ErrInvalidArgument is returned for missing or malformed caller input,
// always before any I/O happens.
var ErrInvalidArgument = errors.Base("invalid argument")

// Credential is an immutable description of a remote endpoint. Construct it
// with New; the zero value is not usable.
type Credential struct {
	username string
	hostname string
	port     int
	keyFile  string
	timeout  time.Duration
}

// Option customizes a Credential during construction.
type Option func(*Credential)

// WithPort overrides the SSH port.
func WithPort(port int) Option {
	return func(c *Credential) {
		c.port = port
	}
}

// WithKey sets the private key file. A leading ~ is expanded to the home
// directory.
func WithKey(path string) Option {
	return func(c *Credential) {
		c.keyFile = expandHome(path)
	}
}

// WithTimeout sets the connection establishment timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Credential) {
		c.timeout = d
	}
}

// New builds a Credential and validates it.
func New(username, hostname string, opts ...Option) (Credential, error) {
	c := Credential{
		username: username,
		hostname: hostname,
		port:     DefaultPort,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Validate reports whether the credential can be used to connect.
func (c Credential) Validate() error {
	if strings.TrimSpace(c.hostname) == "" {
		return errors.Errorf("%w: hostname is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(c.username) == "" {
		return errors.Errorf("%w: username is required", ErrInvalidArgument)
	}
	if c.port <= 0 || c.port > 65535 {
		return errors.Errorf("%w: port %d out of range", ErrInvalidArgument, c.port)
	}
	if c.timeout <= 0 {
		return errors.Errorf("%w: timeout %s must be positive", ErrInvalidArgument, c.timeout)
	}
	return nil
}

func (c Credential) Username() string       { return c.username }
func (c Credential) Hostname() string       { return c.hostname }
func (c Credential) Port() int              { return c.port }
func (c Credential) KeyFile() string        { return c.keyFile }
func (c Credential) Timeout() time.Duration { return c.timeout }

// Address is the host:port dial address.
func (c Credential) Address() string {
	return net.JoinHostPort(c.hostname, strconv.Itoa(c.port))
}

// Target is the user@host form used by ssh, scp and rsync.
func (c Credential) Target() string {
	return fmt.Sprintf("%s@%s", c.username, c.hostname)
}

// String never includes key material.
func (c Credential) String() string {
	return fmt.Sprintf("%s:%d", c.Target(), c.port)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
