// Package remote connects to a host described by a credential.Credential and
// runs shell commands on it.
package remote

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
)

// ErrConnection is returned when a session cannot be established, either
// because the dial timed out or was refused or because authentication
// failed. It is never retried.
var ErrConnection = errors.Base("connection failure")

// Session is an authenticated channel able to run commands and report their
// exit status. Sessions are executor.Runners.
type Session interface {
	executor.Runner
	Close() error
}

// Provider establishes sessions.
type Provider interface {
	Connect(ctx context.Context, cred credential.Credential) (Session, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, cred credential.Credential) (Session, error)

func (f ProviderFunc) Connect(ctx context.Context, cred credential.Credential) (Session, error) {
	return f(ctx, cred)
}
