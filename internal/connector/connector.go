// Package connector is the request pipeline between a transport and the
// engines.
//
// A Connector accepts a command and returns a Future; it never panics and
// never fails synchronously. Cross-cutting behavior is layered with
// Middleware:
//
//	Recover(Events(Throttle(Scheduled(Invoker))))
//
// Recover turns panics into failed futures, Events reports the command
// lifecycle, Throttle rejects commands above the admission rate, Scheduled
// moves the work onto a worker pool and the Invoker routes, prepares,
// authorizes and runs the command.
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/security"
)

// ErrOverloaded reports a command rejected for lack of capacity.
var ErrOverloaded = errors.New("gateway overloaded")

// PanicError wraps a panic recovered in the pipeline.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Connector accepts commands.
type Connector interface {
	Accept(ctx context.Context, cmd command.Command) *Future
}

// Func adapts a function to the Connector interface.
type Func func(ctx context.Context, cmd command.Command) *Future

// Accept calls f(ctx, cmd).
func (f Func) Accept(ctx context.Context, cmd command.Command) *Future {
	return f(ctx, cmd)
}

// Middleware wraps a connector.
type Middleware func(next Connector) Connector

// Chain wraps inner with mws. The first middleware is the outermost.
func Chain(inner Connector, mws ...Middleware) Connector {
	for i := len(mws) - 1; i >= 0; i-- {
		inner = mws[i](inner)
	}
	return inner
}

// Failure reasons, reported on failed events and failure metrics.
const (
	ReasonUsage      = "usage"
	ReasonForbidden  = "forbidden"
	ReasonCancelled  = "cancelled"
	ReasonOverloaded = "overloaded"
	ReasonExecution  = "execution"
)

// Reason classifies err.
func Reason(err error) string {
	switch {
	case command.IsUsage(err):
		return ReasonUsage
	case security.IsForbidden(err):
		return ReasonForbidden
	case engine.IsCancelled(err):
		return ReasonCancelled
	case errors.Is(err, ErrOverloaded):
		return ReasonOverloaded
	default:
		return ReasonExecution
	}
}
