package transfer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/remote"
)

// eventLog records commands from every runner in the order they started.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(side, command string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, side+": "+command)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) side(side string) []string {
	var out []string
	for _, e := range l.all() {
		if rest, ok := strings.CutPrefix(e, side+": "); ok {
			out = append(out, rest)
		}
	}
	return out
}

// index returns the position of the first event containing substr, or -1.
func (l *eventLog) index(substr string) int {
	for i, e := range l.all() {
		if strings.Contains(e, substr) {
			return i
		}
	}
	return -1
}

type handler func(command string) *executor.Output

type mockRunner struct {
	log    *eventLog
	side   string
	handle handler
	remote bool
	closed atomic.Bool
}

func (m *mockRunner) Run(ctx context.Context, command string) (*executor.Output, error) {
	m.log.add(m.side, command)
	if m.handle != nil {
		if out := m.handle(command); out != nil {
			return out, nil
		}
	}
	return &executor.Output{}, nil
}

func (m *mockRunner) Remote() bool      { return m.remote }
func (m *mockRunner) Multiplexed() bool { return true }

func (m *mockRunner) Close() error {
	m.closed.Store(true)
	return nil
}

// harness wires a Syncer to recording runners.
type harness struct {
	log      *eventLog
	local    *mockRunner
	session  *mockRunner
	connects atomic.Int32
	syncer   *Syncer
}

func newHarness(fastSync bool) *harness {
	log := &eventLog{}
	h := &harness{
		log:     log,
		local:   &mockRunner{log: log, side: "local"},
		session: &mockRunner{log: log, side: "remote", remote: true},
	}
	provider := remote.ProviderFunc(func(ctx context.Context, cred credential.Credential) (remote.Session, error) {
		h.connects.Add(1)
		return h.session, nil
	})
	h.syncer = NewSyncer(WithProvider(provider), WithLocalRunner(h.local), WithFastSync(fastSync))
	return h
}
