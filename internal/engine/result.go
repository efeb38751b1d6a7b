package engine

import (
	"io"
	"sync"
	"sync/atomic"
)

// Progress resolves once, when a streamed result has been written (nil),
// failed while writing (the error) or been discarded (ErrCancelled).
//
// Thread-safety: Progress is safe for concurrent use.
type Progress struct {
	mu       sync.Mutex
	resolved bool
	err      error
	subs     []func(error)
	done     chan struct{}
}

func newProgress() *Progress {
	return &Progress{done: make(chan struct{})}
}

// Subscribe registers fn to run with the outcome. If the progress has
// already resolved, fn runs immediately on the calling goroutine.
func (p *Progress) Subscribe(fn func(error)) {
	p.mu.Lock()
	if !p.resolved {
		p.subs = append(p.subs, fn)
		p.mu.Unlock()
		return
	}
	err := p.err
	p.mu.Unlock()
	fn(err)
}

// Done is closed when the progress resolves.
func (p *Progress) Done() <-chan struct{} {
	return p.done
}

// Err returns the outcome. It is nil until Done is closed.
func (p *Progress) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Progress) resolve(err error) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.err = err
	subs := p.subs
	p.subs = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}

// StreamedResult is the deferred output of an executed invocation.
//
// The owner must either Write it once or Close it; both release the
// underlying invocation. Close after Write is a no-op, Close during Write
// aborts the write.
type StreamedResult struct {
	contentType string
	write       func(io.Writer) error
	discard     func()
	progress    *Progress

	claimed   atomic.Bool
	closeOnce sync.Once
}

// NewStreamedResult creates a result that writes with write and releases
// its resources with discard when closed. discard must be idempotent and
// safe to call after write has finished.
func NewStreamedResult(contentType string, write func(io.Writer) error, discard func()) *StreamedResult {
	return &StreamedResult{
		contentType: contentType,
		write:       write,
		discard:     discard,
		progress:    newProgress(),
	}
}

// ContentType returns the media type of the streamed bytes.
func (r *StreamedResult) ContentType() string {
	return r.contentType
}

// Progress returns the signal resolved by Write or Close.
func (r *StreamedResult) Progress() *Progress {
	return r.progress
}

// Write streams the result to w. Only the first call writes; later calls
// fail with ErrResultConsumed.
func (r *StreamedResult) Write(w io.Writer) error {
	if !r.claimed.CompareAndSwap(false, true) {
		return ErrResultConsumed
	}
	err := r.write(w)
	r.progress.resolve(err)
	return err
}

// Close discards the result. An unwritten result resolves its progress
// with ErrCancelled.
func (r *StreamedResult) Close() error {
	r.closeOnce.Do(func() {
		if r.discard != nil {
			r.discard()
		}
		if r.claimed.CompareAndSwap(false, true) {
			r.progress.resolve(ErrCancelled)
		}
	})
	return nil
}
