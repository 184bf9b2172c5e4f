package remote

import (
	"bytes"
	"context"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh"

	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
)

const (
	// keepAlive is how often the client pings an idle connection.
	keepAlive = 100 * time.Second
	// maxChannels stays under OpenSSH's default MaxSessions of 10.
	maxChannels = 8
)

// SSH is the Provider backed by golang.org/x/crypto/ssh. Host keys are not
// verified.
type SSH struct{}

var _ Provider = SSH{}

// Connect dials cred.Address, authenticates with the key file and returns a
// session that multiplexes commands over channels of one connection.
func (SSH) Connect(ctx context.Context, cred credential.Credential) (Session, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	auth, err := authMethods(cred)
	if err != nil {
		return nil, errors.Errorf("%w: %s: %w", ErrConnection, cred, err)
	}

	cfg := &ssh.ClientConfig{
		User:            cred.Username(),
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cred.Timeout(),
	}

	dialCtx, cancel := context.WithTimeout(ctx, cred.Timeout())
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", cred.Address())
	if err != nil {
		return nil, errors.Errorf("%w: dialing %s: %w", ErrConnection, cred, err)
	}

	// The handshake is bounded by the same timeout as the dial.
	_ = conn.SetDeadline(time.Now().Add(cred.Timeout()))
	c, chans, reqs, err := ssh.NewClientConn(conn, cred.Address(), cfg)
	if err != nil {
		conn.Close()
		return nil, errors.Errorf("%w: handshake with %s: %w", ErrConnection, cred, err)
	}
	_ = conn.SetDeadline(time.Time{})

	zerolog.Ctx(ctx).Debug().Str("host", cred.String()).Msg("connected")

	s := &sshSession{
		client:   ssh.NewClient(c, chans, reqs),
		channels: make(chan struct{}, maxChannels),
		done:     make(chan struct{}),
	}
	go s.keepAlive()
	return s, nil
}

func authMethods(cred credential.Credential) ([]ssh.AuthMethod, error) {
	if cred.KeyFile() == "" {
		return nil, errors.New("no key file configured")
	}
	pem, err := os.ReadFile(cred.KeyFile())
	if err != nil {
		return nil, errors.Errorf("reading key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, errors.Errorf("parsing key %s: %w", cred.KeyFile(), err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

type sshSession struct {
	client   *ssh.Client
	channels chan struct{}
	done     chan struct{}
}

func (s *sshSession) Remote() bool      { return true }
func (s *sshSession) Multiplexed() bool { return true }

// Run opens a channel for one command. The exit status is read explicitly;
// a command that ends without reporting one counts as failed.
func (s *sshSession) Run(ctx context.Context, command string) (*executor.Output, error) {
	select {
	case s.channels <- struct{}{}:
		defer func() { <-s.channels }()
	case <-ctx.Done():
		return &executor.Output{ExitCode: -1}, ctx.Err()
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return &executor.Output{ExitCode: -1}, errors.Errorf("opening channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(command); err != nil {
		return &executor.Output{ExitCode: -1}, errors.Errorf("starting %q: %w", command, err)
	}

	waited := make(chan error, 1)
	go func() { waited <- sess.Wait() }()

	select {
	case err = <-waited:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		err = <-waited
	}

	out := &executor.Output{Stdout: stdout.String(), Stderr: stderr.String()}
	return out, exitStatus(out, err)
}

// exitStatus fills out.ExitCode and returns an error only for transport
// failures.
func exitStatus(out *executor.Output, err error) error {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitStatus()
		return nil
	case errors.As(err, &missing):
		out.ExitCode = -1
		return nil
	default:
		out.ExitCode = -1
		return errors.Errorf("waiting for remote command: %w", err)
	}
}

func (s *sshSession) keepAlive() {
	t := time.NewTicker(keepAlive)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

func (s *sshSession) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.client.Close()
}
