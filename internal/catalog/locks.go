package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/datagate/internal/command"
)

// lockTable hands out one lock per schema name. Entries are reference
// counted and removed when nobody holds or waits for them.
type lockTable struct {
	mu      sync.Mutex
	entries map[command.Id]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[command.Id]*lockEntry)}
}

// acquire locks name, waiting at most timeout. The returned function
// releases the lock and must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, name command.Id, timeout time.Duration) (func(), error) {
	t.mu.Lock()
	e, ok := t.entries[name]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		t.entries[name] = e
	}
	e.refs++
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			t.unref(name, e)
		}, nil
	case <-timer.C:
		t.unref(name, e)
		return nil, &LockTimeoutError{Name: name, Timeout: timeout}
	case <-ctx.Done():
		t.unref(name, e)
		return nil, ctx.Err()
	}
}

func (t *lockTable) unref(name command.Id, e *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, name)
	}
}

// size returns the number of live entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
