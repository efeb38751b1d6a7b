// Package testutil provides stub engines and invocations for tests of the
// layers above the engine contract.
package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/security"
)

// ErrInterrupted is returned by a gated StubInvocation.Execute when the
// invocation is cancelled before the gate opens.
var ErrInterrupted = errors.New("stub invocation interrupted")

// StubInvocation is a scripted engine.Invocation that counts lifecycle calls.
//
// Configure the exported fields before handing the invocation out. When
// Gate is set, Execute blocks until Gate is closed or Cancel is called.
//
// Thread-safety: the counters and Cancel are safe for concurrent use.
type StubInvocation struct {
	Permission security.Permission
	MediaType  string
	Payload    string
	Props      map[string][]string
	ExecuteErr error
	WriteErr   error
	Gate       chan struct{}

	// Started is closed when Execute begins.
	Started chan struct{}

	Executes atomic.Int32
	Writes   atomic.Int32
	Cancels  atomic.Int32
	Closes   atomic.Int32

	startOnce  sync.Once
	cancelOnce sync.Once
	cancelled  chan struct{}
}

// NewStubInvocation creates a query invocation writing payload as text/plain.
func NewStubInvocation(payload string) *StubInvocation {
	return &StubInvocation{
		Permission: security.InvokeQuery,
		MediaType:  "text/plain",
		Payload:    payload,
		Started:    make(chan struct{}),
		cancelled:  make(chan struct{}),
	}
}

func (s *StubInvocation) Requires() security.Permission { return s.Permission }
func (s *StubInvocation) Produces() string              { return s.MediaType }

func (s *StubInvocation) Properties() map[string][]string {
	out := make(map[string][]string, len(s.Props))
	for k, v := range s.Props {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (s *StubInvocation) Execute(ctx context.Context) error {
	s.Executes.Add(1)
	s.startOnce.Do(func() { close(s.Started) })
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-s.cancelled:
			return ErrInterrupted
		}
	}
	return s.ExecuteErr
}

func (s *StubInvocation) Write(w io.Writer) error {
	s.Writes.Add(1)
	if s.WriteErr != nil {
		return s.WriteErr
	}
	_, err := io.WriteString(w, s.Payload)
	return err
}

func (s *StubInvocation) Cancel() {
	s.Cancels.Add(1)
	s.cancelOnce.Do(func() { close(s.cancelled) })
}

func (s *StubInvocation) Close() error {
	s.Closes.Add(1)
	return nil
}

// StubEngine hands out invocations built by NewInvocation, or fails every
// Prepare with PrepareErr.
type StubEngine struct {
	Lang          command.Language
	PrepareErr    error
	CloseErr      error
	NewInvocation func(cmd command.Command) *StubInvocation

	Closes atomic.Int32

	mu       sync.Mutex
	prepared []*StubInvocation
}

// NewStubEngine creates an engine for lang whose invocations write payload.
func NewStubEngine(lang command.Language, payload string) *StubEngine {
	return &StubEngine{
		Lang: lang,
		NewInvocation: func(command.Command) *StubInvocation {
			return NewStubInvocation(payload)
		},
	}
}

// Language implements engine.Engine.
func (e *StubEngine) Language() command.Language { return e.Lang }

// Prepare implements engine.Engine.
func (e *StubEngine) Prepare(cmd command.Command) (engine.Invocation, error) {
	if err := cmd.FailIfNotValid(); err != nil {
		return nil, err
	}
	if e.PrepareErr != nil {
		return nil, e.PrepareErr
	}
	inv := e.NewInvocation(cmd)
	e.mu.Lock()
	e.prepared = append(e.prepared, inv)
	e.mu.Unlock()
	return inv, nil
}

// Close implements engine.Engine.
func (e *StubEngine) Close() error {
	e.Closes.Add(1)
	return e.CloseErr
}

// Prepared returns the invocations handed out so far.
func (e *StubEngine) Prepared() []*StubInvocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*StubInvocation(nil), e.prepared...)
}

// Last returns the most recent invocation, or nil.
func (e *StubEngine) Last() *StubInvocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.prepared) == 0 {
		return nil
	}
	return e.prepared[len(e.prepared)-1]
}
