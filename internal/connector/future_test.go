package connector

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datagate/internal/engine"
)

func newResult(closed *atomic.Int32) *engine.StreamedResult {
	return engine.NewStreamedResult("text/plain",
		func(w io.Writer) error { _, err := io.WriteString(w, "ok"); return err },
		func() { closed.Add(1) },
	)
}

func TestFuture_IsLazy(t *testing.T) {
	var runs atomic.Int32
	f := NewFuture(context.Background(), func(context.Context, Settler) error {
		runs.Add(1)
		return errors.New("done")
	})

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())

	f.Start()
	f.Start()
	<-f.Done()
	assert.Equal(t, int32(1), runs.Load())
}

func TestFuture_ResultClaimedOnce(t *testing.T) {
	var closed atomic.Int32
	f := NewFuture(context.Background(), func(_ context.Context, s Settler) error {
		s.Deliver(newResult(&closed))
		return nil
	})

	res, err := f.Await(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	_, err = f.Await(context.Background())
	assert.ErrorIs(t, err, engine.ErrResultConsumed)
	assert.Equal(t, int32(0), closed.Load())
}

func TestFuture_SecondDeliveryIsClosed(t *testing.T) {
	var first, second atomic.Int32
	f := NewFuture(context.Background(), func(_ context.Context, s Settler) error {
		s.Deliver(newResult(&first))
		s.Deliver(newResult(&second))
		return nil
	})

	_, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestFuture_NilWithoutResultIsCancelled(t *testing.T) {
	f := NewFuture(context.Background(), func(context.Context, Settler) error { return nil })
	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, engine.ErrCancelled)
}

func TestFuture_CancelBeforeStart(t *testing.T) {
	var runs atomic.Int32
	f := NewFuture(context.Background(), func(context.Context, Settler) error {
		runs.Add(1)
		return nil
	})

	f.Cancel()
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled future did not complete")
	}

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, engine.ErrCancelled)
	assert.Equal(t, int32(0), runs.Load())
}

func TestFuture_DeliveryAfterCancelIsClosed(t *testing.T) {
	var closed atomic.Int32
	release := make(chan struct{})
	f := NewFuture(context.Background(), func(ctx context.Context, s Settler) error {
		<-release
		s.Deliver(newResult(&closed))
		return nil
	})

	f.Start()
	f.Cancel()
	close(release)
	<-f.Done()

	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, engine.ErrCancelled)
	assert.Equal(t, int32(1), closed.Load())
}

func TestFuture_AwaitContextCancelsFuture(t *testing.T) {
	f := NewFuture(context.Background(), func(ctx context.Context, _ Settler) error {
		<-ctx.Done()
		return engine.ErrCancelled
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, engine.ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-f.Done()
}

func TestFuture_ObserveReplays(t *testing.T) {
	var closed atomic.Int32
	f := NewFuture(context.Background(), func(_ context.Context, s Settler) error {
		s.Accepted(map[string][]string{"k": {"v"}})
		s.Accepted(map[string][]string{"k": {"ignored"}})
		s.Deliver(newResult(&closed))
		return nil
	})

	var live []string
	f.Observe(Observer{
		OnAccepted: func(props map[string][]string) { live = append(live, "accepted:"+props["k"][0]) },
		OnResult:   func(*engine.StreamedResult) { live = append(live, "result") },
		OnFailed:   func(error) { live = append(live, "failed") },
	})
	f.Start()
	<-f.Done()

	var replayed []string
	f.Observe(Observer{
		OnAccepted: func(props map[string][]string) { replayed = append(replayed, "accepted:"+props["k"][0]) },
		OnResult:   func(*engine.StreamedResult) { replayed = append(replayed, "result") },
	})

	assert.Equal(t, []string{"accepted:v", "result"}, live)
	assert.Equal(t, live, replayed)
}

func TestFuture_TaskPanicFails(t *testing.T) {
	f := NewFuture(context.Background(), func(context.Context, Settler) error {
		panic("bad")
	})
	_, err := f.Await(context.Background())
	var pe *PanicError
	assert.ErrorAs(t, err, &pe)
}

func TestFuture_RunsOnExecutor(t *testing.T) {
	var submitted atomic.Int32
	ex := executorFunc(func(task func()) error {
		submitted.Add(1)
		go task()
		return nil
	})

	f := NewFuture(WithExecutor(context.Background(), ex), func(context.Context, Settler) error {
		return errors.New("x")
	})
	_, err := f.Await(context.Background())
	assert.EqualError(t, err, "x")
	assert.Equal(t, int32(1), submitted.Load())
}

type executorFunc func(task func()) error

func (f executorFunc) Submit(task func()) error { return f(task) }
