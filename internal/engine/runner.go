package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// state is a Runner lifecycle position. See the package documentation.
type state int32

const (
	stateInitial state = iota
	stateExecute
	stateStream
	stateComplete
	stateAbort
	stateDone
)

func (s state) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateExecute:
		return "execute"
	case stateStream:
		return "stream"
	case stateComplete:
		return "complete"
	case stateAbort:
		return "abort"
	default:
		return "done"
	}
}

// Runner drives one Invocation from execution to cleanup.
//
// Guarantees:
//   - Execute runs at most once.
//   - At most one StreamedResult is delivered.
//   - Invocation.Close runs exactly once, whether the run succeeds,
//     fails or is cancelled.
//
// Thread-safety: all transitions are atomic compare-and-swap operations,
// so cancellation hooks, the run goroutine and the result consumer may race
// freely.
type Runner struct {
	inv   Invocation
	state atomic.Int32
}

// NewRunner creates a runner for inv.
func NewRunner(inv Invocation) *Runner {
	return &Runner{inv: inv}
}

// Run executes the invocation and passes its result to deliver.
//
// deliver is called at most once, on the calling goroutine, and only when
// execution succeeded and was not cancelled. Run returns nil when a result
// was delivered; the result then owns the invocation. Cancelling ctx while
// executing aborts the invocation and Run returns ErrCancelled.
func (r *Runner) Run(ctx context.Context, deliver func(*StreamedResult)) error {
	if !r.transition(stateInitial, stateExecute) {
		return ErrAlreadyStarted
	}
	if ctx.Err() != nil {
		r.cancel(stateExecute)
		r.cleanup()
		return ErrCancelled
	}
	stop := context.AfterFunc(ctx, func() { r.cancel(stateExecute) })
	defer stop()
	defer func() {
		// Once streaming, the result is responsible for cleanup.
		if s := r.current(); s != stateStream && s != stateComplete {
			r.cleanup()
		}
	}()

	if err := r.inv.Execute(ctx); err != nil {
		if r.current() == stateAbort {
			return ErrCancelled
		}
		return &ExecutionError{Phase: "execute", Err: err}
	}
	if r.current() != stateExecute {
		return ErrCancelled
	}

	deliver(NewStreamedResult(r.inv.Produces(), r.write, r.discard))
	r.transition(stateExecute, stateStream)
	return nil
}

// write is the StreamedResult write callback.
func (r *Runner) write(w io.Writer) error {
	defer r.cleanup()

	r.transition(stateExecute, stateStream)
	if r.current() != stateStream {
		return ErrCancelled
	}
	if err := r.inv.Write(w); err != nil {
		if r.current() == stateAbort {
			return ErrCancelled
		}
		return &ExecutionError{Phase: "write", Err: err}
	}
	if !r.transition(stateStream, stateComplete) {
		return ErrCancelled
	}
	return nil
}

// discard is the StreamedResult close callback.
func (r *Runner) discard() {
	r.cancel(stateStream)
	r.cancel(stateExecute)
	r.cleanup()
}

// cancel aborts the invocation if it is still in state from.
func (r *Runner) cancel(from state) {
	if r.transition(from, stateAbort) {
		slog.Debug("invocation aborted", "state", from.String())
		r.inv.Cancel()
	}
}

// cleanup moves to DONE; only the first caller closes the invocation.
func (r *Runner) cleanup() {
	if state(r.state.Swap(int32(stateDone))) == stateDone {
		return
	}
	if err := r.inv.Close(); err != nil {
		slog.Warn("failed to close invocation", "error", err)
	}
}

func (r *Runner) transition(from, to state) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *Runner) current() state {
	return state(r.state.Load())
}
