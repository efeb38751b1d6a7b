package engine

import (
	"context"
	"io"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/security"
)

// Engine executes commands written in one query language.
//
// Implementations must be safe for concurrent use: the gateway prepares
// commands from many goroutines.
type Engine interface {
	// Language returns the language this engine serves.
	Language() command.Language

	// Prepare validates cmd and creates an invocation for it.
	// It performs no I/O and fails with usage errors for malformed payloads.
	Prepare(cmd command.Command) (Invocation, error)

	// Close releases backend resources. Outstanding invocations may fail.
	Close() error
}

// Invocation is a prepared, single-use operation.
//
// Execute runs the operation, Write streams its outcome. Cancel may be
// called concurrently with Execute or Write from another goroutine and must
// make them return promptly. Close releases everything the invocation holds
// and is idempotent.
type Invocation interface {
	// Requires names the permission needed to run this invocation.
	Requires() security.Permission

	// Produces returns the media type Write emits.
	Produces() string

	// Properties describes the invocation for auditing.
	Properties() map[string][]string

	Execute(ctx context.Context) error
	Write(w io.Writer) error
	Cancel()
	Close() error
}

// Router picks the engine responsible for a command.
type Router interface {
	Select(cmd command.Command) (Engine, error)
}

// RouterFunc adapts a function to the Router interface.
type RouterFunc func(cmd command.Command) (Engine, error)

// Select calls f(cmd).
func (f RouterFunc) Select(cmd command.Command) (Engine, error) {
	return f(cmd)
}
