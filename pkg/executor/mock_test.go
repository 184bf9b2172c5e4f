package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeRunner records commands and answers with runFunc.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	runFunc  func(ctx context.Context, command string) (*Output, error)
	remote   bool
	mux      bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	hold        time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, command string) (*Output, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	if f.runFunc != nil {
		return f.runFunc(ctx, command)
	}
	return &Output{}, nil
}

func (f *fakeRunner) Remote() bool      { return f.remote }
func (f *fakeRunner) Multiplexed() bool { return f.mux }

func (f *fakeRunner) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeRunner) count(command string) int {
	n := 0
	for _, c := range f.recorded() {
		if c == command {
			n++
		}
	}
	return n
}
