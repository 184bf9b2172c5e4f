// Package transport turns a planned unit into the shell command that moves
// it. It builds strings only; running them is the executor's job.
package transport

import (
	"os/exec"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/planner"
)

const (
	fastSyncTool     = "rsync"
	keepAliveSeconds = 100
)

var lookPath = exec.LookPath

// Probe reports whether the fast-sync tool is installed locally. Call it
// once per run and hand the result to New.
func Probe() bool {
	_, err := lookPath(fastSyncTool)
	return err == nil
}

// Selector builds transfer commands for one remote endpoint.
type Selector struct {
	cred      credential.Credential
	fastSync  bool
	extraArgs []string
}

// New creates a Selector. extraArgs are passed verbatim to the transfer
// tool, after its own flags.
func New(cred credential.Credential, fastSync bool, extraArgs []string) *Selector {
	return &Selector{
		cred:      cred,
		fastSync:  fastSync,
		extraArgs: extraArgs,
	}
}

// FastSync reports whether commands use the fast-sync tool.
func (s *Selector) FastSync() bool { return s.fastSync }

// Command returns the command moving u in direction d. Every command runs on
// the local host.
func (s *Selector) Command(d planner.Direction, u planner.Unit) (string, error) {
	switch d {
	case planner.Upload, planner.Download:
	default:
		return "", errors.Errorf("no transfer command for %s direction", d)
	}

	if u.IsDir {
		mkdir := "mkdir -p " + executor.Quote(u.Dest)
		if d == planner.Upload {
			return s.remoteShell(mkdir), nil
		}
		return mkdir, nil
	}

	// The remote path is quoted for the local shell only. rsync gets
	// --protect-args and scp's SFTP mode opens the path without a remote
	// shell, so neither splits it again.
	src, dst := executor.Quote(u.Source), executor.Quote(u.Dest)
	if d == planner.Upload {
		dst = s.cred.Target() + ":" + dst
	} else {
		src = s.cred.Target() + ":" + src
	}

	var b strings.Builder
	if s.fastSync {
		b.WriteString("rsync -c --protect-args")
		s.writeExtra(&b)
		b.WriteString(" -e ")
		b.WriteString(executor.SingleQuote("ssh -p " + strconv.Itoa(s.cred.Port()) + s.sshOptions()))
	} else {
		b.WriteString("scp -P ")
		b.WriteString(strconv.Itoa(s.cred.Port()))
		b.WriteString(s.sshOptions())
		s.writeExtra(&b)
	}
	b.WriteByte(' ')
	b.WriteString(src)
	b.WriteByte(' ')
	b.WriteString(dst)
	return b.String(), nil
}

// remoteShell runs command on the remote host through the ssh client.
func (s *Selector) remoteShell(command string) string {
	return "ssh -p " + strconv.Itoa(s.cred.Port()) + s.sshOptions() + " " + s.cred.Target() + " " + executor.SingleQuote(command)
}

func (s *Selector) sshOptions() string {
	var b strings.Builder
	if key := s.cred.KeyFile(); key != "" {
		b.WriteString(" -i ")
		b.WriteString(executor.Quote(key))
	}
	b.WriteString(" -o StrictHostKeyChecking=no -o ServerAliveInterval=")
	b.WriteString(strconv.Itoa(keepAliveSeconds))
	return b.String()
}

func (s *Selector) writeExtra(b *strings.Builder) {
	for _, arg := range s.extraArgs {
		if arg = strings.TrimSpace(arg); arg != "" {
			b.WriteByte(' ')
			b.WriteString(arg)
		}
	}
}
