package insight

import (
	"context"
	"log/slog"
)

// EventWriter persists events. Implemented by store.Store.
type EventWriter interface {
	WriteEvent(ctx context.Context, e Event) error
}

// Journal is an Emitter that persists events asynchronously.
//
// Emit queues the event and returns; Run is the single writer that drains
// the queue in order. Close stops intake, after which Run writes what is
// left and returns.
//
// Thread-safety model:
//   - Emit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Journal struct {
	writer EventWriter
	queue  *eventQueue
	done   chan struct{}
}

// NewJournal creates a journal writing to w.
func NewJournal(w EventWriter) *Journal {
	return &Journal{
		writer: w,
		queue:  newEventQueue(),
		done:   make(chan struct{}),
	}
}

// Emit implements Emitter.
func (j *Journal) Emit(e Event) {
	if !j.queue.Enqueue(e) {
		slog.Warn("journal closed, dropping event", "kind", e.Kind, "flow", e.Flow, "seq", e.Seq)
	}
}

// Run writes queued events until the journal is closed and drained, or ctx
// is cancelled. Write failures are logged and do not stop the loop.
func (j *Journal) Run(ctx context.Context) error {
	defer close(j.done)

	for {
		for {
			e, ok := j.queue.TryDequeue()
			if !ok {
				break
			}
			if err := j.writer.WriteEvent(ctx, e); err != nil {
				slog.Error("failed to persist event", "kind", e.Kind, "flow", e.Flow, "seq", e.Seq, "error", err)
			}
		}
		if j.queue.Drained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.queue.Wait():
		}
	}
}

// Close stops accepting events. Call Done to wait until they are written.
func (j *Journal) Close() {
	j.queue.Close()
}

// Done is closed when Run returns.
func (j *Journal) Done() <-chan struct{} {
	return j.done
}

// Pending returns the number of events not yet written.
func (j *Journal) Pending() int {
	return j.queue.Len()
}
