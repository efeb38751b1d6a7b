package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/datagate/internal/engine"
)

// Executor runs tasks off the caller's goroutine. *ants.Pool implements it.
type Executor interface {
	Submit(task func()) error
}

type executorKey struct{}

// WithExecutor returns a context whose futures run on ex.
func WithExecutor(ctx context.Context, ex Executor) context.Context {
	return context.WithValue(ctx, executorKey{}, ex)
}

func executorFrom(ctx context.Context) Executor {
	ex, _ := ctx.Value(executorKey{}).(Executor)
	return ex
}

// Settler is how a task reports progress to its future.
type Settler interface {
	// Accepted marks the command as prepared and authorized. Only the first
	// call counts.
	Accepted(props map[string][]string)

	// Deliver hands over the result. A result delivered after cancellation,
	// or after another result, is closed.
	Deliver(res *engine.StreamedResult)
}

// Task is the work behind a future. Returning nil without delivering a
// result means the work was cancelled.
type Task func(ctx context.Context, s Settler) error

// Observer receives future notifications. Nil callbacks are skipped.
type Observer struct {
	OnAccepted func(props map[string][]string)
	OnResult   func(res *engine.StreamedResult)
	OnFailed   func(err error)
}

// Future is the lazy, cancellable, single result of an accepted command.
//
// The task starts on the first Start or Await, on the Executor found in the
// context the future was created with, or on a new goroutine when there is
// none. Observers are notified before Done is closed, so an observer always
// sees the outcome before any Await returns it.
//
// Thread-safety: all methods are safe for concurrent use.
type Future struct {
	ctx    context.Context
	cancel context.CancelFunc
	task   Task

	startOnce sync.Once
	done      chan struct{}

	// notifyMu serializes notifications with observer registration so each
	// observer sees every notification exactly once.
	notifyMu  sync.Mutex
	observers []Observer

	mu        sync.Mutex
	props     map[string][]string
	accepted  bool
	result    *engine.StreamedResult
	err       error
	finished  bool
	claimed   bool
	cancelled bool
}

// NewFuture creates a future running task with a context derived from ctx.
func NewFuture(ctx context.Context, task Task) *Future {
	runCtx, cancel := context.WithCancel(ctx)
	return &Future{
		ctx:    runCtx,
		cancel: cancel,
		task:   task,
		done:   make(chan struct{}),
	}
}

// Failed returns a future that fails with err once started.
func Failed(ctx context.Context, err error) *Future {
	return NewFuture(ctx, func(context.Context, Settler) error { return err })
}

// Start schedules the task. Later calls do nothing.
func (f *Future) Start() {
	f.startOnce.Do(func() {
		f.mu.Lock()
		cancelled := f.cancelled
		f.mu.Unlock()
		if cancelled {
			f.finish(engine.ErrCancelled)
			return
		}

		ex := executorFrom(f.ctx)
		if ex == nil {
			go f.run()
			return
		}
		if err := ex.Submit(f.run); err != nil {
			f.finish(fmt.Errorf("%w: %w", ErrOverloaded, err))
		}
	})
}

// Await starts the future and waits for its outcome. The result can be
// claimed once; later calls fail with engine.ErrResultConsumed. If ctx ends
// first the future is cancelled.
func (f *Future) Await(ctx context.Context) (*engine.StreamedResult, error) {
	f.Start()
	select {
	case <-f.done:
	case <-ctx.Done():
		f.Cancel()
		return nil, fmt.Errorf("%w: %w", engine.ErrCancelled, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.claimed {
		return nil, engine.ErrResultConsumed
	}
	f.claimed = true
	return f.result, nil
}

// Done is closed when the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Cancel aborts the work. A pending future completes with
// engine.ErrCancelled, an unclaimed result is closed. Cancelling after the
// result has been claimed does nothing: the claimer owns it.
func (f *Future) Cancel() {
	f.mu.Lock()
	if f.claimed {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	var unclaimed *engine.StreamedResult
	if f.finished && f.result != nil {
		unclaimed = f.result
		f.result = nil
		f.err = engine.ErrCancelled
	}
	f.mu.Unlock()

	f.cancel()
	if unclaimed != nil {
		unclaimed.Close()
	}
	// Never started: nothing else will complete it.
	f.startOnce.Do(func() { f.finish(engine.ErrCancelled) })
}

// Observe registers o. Notifications that already happened are replayed
// on the calling goroutine.
func (f *Future) Observe(o Observer) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	accepted, props := f.accepted, f.props
	finished, res, err := f.finished, f.result, f.err
	f.mu.Unlock()

	if accepted && o.OnAccepted != nil {
		o.OnAccepted(props)
	}
	if finished {
		notifyOutcome(o, res, err)
	}
	f.observers = append(f.observers, o)
}

func (f *Future) run() {
	defer func() {
		if v := recover(); v != nil {
			f.finish(&PanicError{Value: v})
		}
	}()
	f.finish(f.task(f.ctx, settler{f}))
}

func (f *Future) accept(props map[string][]string) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	if f.accepted || f.finished {
		f.mu.Unlock()
		return
	}
	f.accepted, f.props = true, props
	f.mu.Unlock()

	for _, o := range f.observers {
		if o.OnAccepted != nil {
			o.OnAccepted(props)
		}
	}
}

func (f *Future) deliver(res *engine.StreamedResult) {
	f.mu.Lock()
	if f.cancelled || f.finished || f.result != nil {
		f.mu.Unlock()
		res.Close()
		return
	}
	f.result = res
	f.mu.Unlock()
}

// finish records the outcome, notifies observers, then closes Done.
func (f *Future) finish(err error) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return
	}
	f.finished = true
	var discarded *engine.StreamedResult
	if f.result != nil && (err != nil || f.cancelled) {
		// A failure or cancellation after delivery wins.
		discarded, f.result = f.result, nil
	}
	if err == nil && f.result == nil {
		err = engine.ErrCancelled
	}
	f.err = err
	res := f.result
	f.mu.Unlock()

	if discarded != nil {
		discarded.Close()
	}
	// The runner has returned: a delivered result no longer depends on
	// the run context.
	f.cancel()

	for _, o := range f.observers {
		notifyOutcome(o, res, err)
	}
	close(f.done)
}

func notifyOutcome(o Observer, res *engine.StreamedResult, err error) {
	if err != nil {
		if o.OnFailed != nil {
			o.OnFailed(err)
		}
		return
	}
	if o.OnResult != nil {
		o.OnResult(res)
	}
}

type settler struct{ f *Future }

func (s settler) Accepted(props map[string][]string) { s.f.accept(props) }
func (s settler) Deliver(res *engine.StreamedResult)  { s.f.deliver(res) }
