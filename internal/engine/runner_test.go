package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datagate/internal/security"
)

// fakeInvocation records lifecycle calls. Execute blocks on gate when set.
type fakeInvocation struct {
	executeErr error
	writeErr   error
	payload    string
	gate       chan struct{}

	executes atomic.Int32
	writes   atomic.Int32
	cancels  atomic.Int32
	closes   atomic.Int32

	cancelOnce sync.Once
	cancelled  chan struct{}
}

func newFakeInvocation() *fakeInvocation {
	return &fakeInvocation{payload: "ok", cancelled: make(chan struct{})}
}

func (f *fakeInvocation) Requires() security.Permission  { return security.InvokeQuery }
func (f *fakeInvocation) Produces() string                { return "text/plain" }
func (f *fakeInvocation) Properties() map[string][]string { return nil }

func (f *fakeInvocation) Execute(ctx context.Context) error {
	f.executes.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.cancelled:
			return errors.New("interrupted")
		}
	}
	return f.executeErr
}

func (f *fakeInvocation) Write(w io.Writer) error {
	f.writes.Add(1)
	if f.writeErr != nil {
		return f.writeErr
	}
	_, err := io.WriteString(w, f.payload)
	return err
}

func (f *fakeInvocation) Cancel() {
	f.cancels.Add(1)
	f.cancelOnce.Do(func() { close(f.cancelled) })
}

func (f *fakeInvocation) Close() error {
	f.closes.Add(1)
	return nil
}

func runAndCapture(t *testing.T, ctx context.Context, r *Runner) (*StreamedResult, error) {
	t.Helper()
	var got *StreamedResult
	err := r.Run(ctx, func(res *StreamedResult) {
		require.Nil(t, got, "deliver called twice")
		got = res
	})
	return got, err
}

func TestRunner_SuccessfulRunClosesOnceAfterWrite(t *testing.T) {
	inv := newFakeInvocation()
	r := NewRunner(inv)

	res, err := runAndCapture(t, context.Background(), r)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "text/plain", res.ContentType())
	assert.Equal(t, int32(0), inv.closes.Load(), "streaming result owns the invocation")

	var buf bytes.Buffer
	require.NoError(t, res.Write(&buf))
	assert.Equal(t, "ok", buf.String())
	assert.Equal(t, int32(1), inv.closes.Load())
	assert.Equal(t, stateDone, r.current())

	require.NoError(t, res.Close())
	assert.Equal(t, int32(1), inv.closes.Load(), "close after write must not close again")
	assert.Equal(t, int32(0), inv.cancels.Load())

	select {
	case <-res.Progress().Done():
	default:
		t.Fatal("progress should be resolved")
	}
	assert.NoError(t, res.Progress().Err())
}

func TestRunner_ExecuteFailure(t *testing.T) {
	inv := newFakeInvocation()
	inv.executeErr = errors.New("table not found")
	r := NewRunner(inv)

	res, err := runAndCapture(t, context.Background(), r)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsExecutionError(err))
	assert.ErrorIs(t, err, inv.executeErr)
	assert.Equal(t, int32(1), inv.closes.Load())
}

func TestRunner_SecondRunRejected(t *testing.T) {
	inv := newFakeInvocation()
	r := NewRunner(inv)

	res, err := runAndCapture(t, context.Background(), r)
	require.NoError(t, err)
	defer res.Close()

	_, err = runAndCapture(t, context.Background(), r)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, int32(1), inv.executes.Load())
}

func TestRunner_AlreadyCancelledContext(t *testing.T) {
	inv := newFakeInvocation()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runAndCapture(t, ctx, NewRunner(inv))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, res)
	assert.Equal(t, int32(0), inv.executes.Load())
	assert.Equal(t, int32(1), inv.cancels.Load())
	assert.Equal(t, int32(1), inv.closes.Load())
}

func TestRunner_CancelDuringExecute(t *testing.T) {
	inv := newFakeInvocation()
	inv.gate = make(chan struct{})
	r := NewRunner(inv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	delivered := atomic.Bool{}
	go func() {
		done <- r.Run(ctx, func(*StreamedResult) { delivered.Store(true) })
	}()

	require.Eventually(t, func() bool { return inv.executes.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.False(t, delivered.Load(), "no result after cancel")
	assert.Equal(t, int32(1), inv.cancels.Load())
	assert.Equal(t, int32(1), inv.closes.Load())
}

func TestRunner_CloseWithoutWriteCancels(t *testing.T) {
	inv := newFakeInvocation()
	r := NewRunner(inv)

	res, err := runAndCapture(t, context.Background(), r)
	require.NoError(t, err)

	require.NoError(t, res.Close())
	require.NoError(t, res.Close())
	assert.Equal(t, int32(1), inv.cancels.Load())
	assert.Equal(t, int32(1), inv.closes.Load())
	assert.Equal(t, int32(0), inv.writes.Load())
	assert.ErrorIs(t, res.Progress().Err(), ErrCancelled)

	err = res.Write(io.Discard)
	assert.ErrorIs(t, err, ErrResultConsumed)
}

func TestRunner_WriteFailure(t *testing.T) {
	inv := newFakeInvocation()
	inv.writeErr = errors.New("connection reset")
	r := NewRunner(inv)

	res, err := runAndCapture(t, context.Background(), r)
	require.NoError(t, err)

	err = res.Write(io.Discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, inv.writeErr)
	assert.ErrorIs(t, res.Progress().Err(), inv.writeErr)
	assert.Equal(t, int32(1), inv.closes.Load())
}

func TestRunner_CancelAfterDeliveryDoesNotAbortStream(t *testing.T) {
	inv := newFakeInvocation()
	r := NewRunner(inv)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := runAndCapture(t, ctx, r)
	require.NoError(t, err)
	cancel()

	var buf bytes.Buffer
	require.NoError(t, res.Write(&buf))
	assert.Equal(t, "ok", buf.String())
	assert.Equal(t, int32(0), inv.cancels.Load())
	assert.Equal(t, int32(1), inv.closes.Load())
}

func TestRunner_WriteInsideDeliver(t *testing.T) {
	inv := newFakeInvocation()
	r := NewRunner(inv)

	var buf bytes.Buffer
	err := r.Run(context.Background(), func(res *StreamedResult) {
		require.NoError(t, res.Write(&buf))
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", buf.String())
	assert.Equal(t, int32(1), inv.closes.Load())
}

func TestRunner_ConcurrentCloseAndWriteReleaseOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		inv := newFakeInvocation()
		r := NewRunner(inv)
		res, err := runAndCapture(t, context.Background(), r)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = res.Write(io.Discard) }()
		go func() { defer wg.Done(); _ = res.Close() }()
		wg.Wait()

		assert.Equal(t, int32(1), inv.closes.Load())
		<-res.Progress().Done()
	}
}

func TestProgress_SubscribeReplays(t *testing.T) {
	p := newProgress()
	var before, after error = errors.New("unset"), errors.New("unset")
	p.Subscribe(func(err error) { before = err })

	boom := errors.New("boom")
	p.resolve(boom)
	p.resolve(nil)

	p.Subscribe(func(err error) { after = err })
	assert.Equal(t, boom, before)
	assert.Equal(t, boom, after)
	assert.Equal(t, boom, p.Err())
}
