package connector

import (
	"context"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/insight"
)

// Events reports the lifecycle of every command to em, correlated by a
// flow token from tokens:
//
//	received -> accepted -> executed -> completed
//
// A failure at any step emits failed instead, with the failure reason.
// The flow token is available to inner layers through insight.FlowFrom.
func Events(em insight.Emitter, tokens insight.FlowTokenGenerator) Middleware {
	return func(next Connector) Connector {
		return Func(func(ctx context.Context, cmd command.Command) *Future {
			flow := tokens.Generate()
			ctx = insight.WithFlow(ctx, flow)
			received := receivedEvent(cmd)
			received.Flow = flow
			schema := received.Schema
			em.Emit(received)

			failed := func(err error) {
				em.Emit(insight.Event{
					Flow:       flow,
					Kind:       insight.KindFailed,
					Schema:     schema,
					Message:    err.Error(),
					Attributes: map[string][]string{insight.AttrReason: {Reason(err)}},
				})
			}

			f := next.Accept(ctx, cmd)
			f.Observe(Observer{
				OnAccepted: func(props map[string][]string) {
					em.Emit(insight.Event{Flow: flow, Kind: insight.KindAccepted, Schema: schema, Attributes: props})
				},
				OnResult: func(res *engine.StreamedResult) {
					em.Emit(insight.Event{
						Flow:       flow,
						Kind:       insight.KindExecuted,
						Schema:     schema,
						Attributes: map[string][]string{insight.AttrMediaType: {res.ContentType()}},
					})
					res.Progress().Subscribe(func(err error) {
						if err != nil {
							failed(err)
							return
						}
						em.Emit(insight.Event{Flow: flow, Kind: insight.KindCompleted, Schema: schema})
					})
				},
				OnFailed: failed,
			})
			return f
		})
	}
}

// Scheduled runs the work of inner futures on ex.
func Scheduled(ex Executor) Middleware {
	return func(next Connector) Connector {
		return Func(func(ctx context.Context, cmd command.Command) *Future {
			return next.Accept(WithExecutor(ctx, ex), cmd)
		})
	}
}

// NewPool creates a non-blocking worker pool of size workers. Submitting to
// a saturated pool fails instead of waiting. Panics in tasks are logged.
func NewPool(workers int) (*ants.Pool, error) {
	return ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(v any) {
			slog.Error("worker panic", "panic", v)
		}),
	)
}

// Throttle admits commands at the rate of limiter and fails the rest with
// ErrOverloaded before they reach inner layers.
func Throttle(limiter *rate.Limiter) Middleware {
	return func(next Connector) Connector {
		return Func(func(ctx context.Context, cmd command.Command) *Future {
			if !limiter.Allow() {
				return Failed(ctx, ErrOverloaded)
			}
			return next.Accept(ctx, cmd)
		})
	}
}

// Recover converts panics raised while accepting into failed futures.
func Recover() Middleware {
	return func(next Connector) Connector {
		return Func(func(ctx context.Context, cmd command.Command) (f *Future) {
			defer func() {
				if v := recover(); v != nil {
					slog.Error("panic while accepting command", "flow", insight.FlowFrom(ctx), "panic", v)
					f = Failed(ctx, &PanicError{Value: v})
				}
			}()
			return next.Accept(ctx, cmd)
		})
	}
}

// receivedEvent describes cmd as it arrived. The schema is set only when it
// is a valid name. An invalid command carries no attributes; its error
// surfaces through the failed event.
func receivedEvent(cmd command.Command) insight.Event {
	e := insight.Event{Kind: insight.KindReceived}
	if id, err := cmd.Schema(); err == nil {
		e.Schema = id.String()
	}
	props, err := cmd.Properties()
	if err != nil {
		return e
	}
	accepted, err := cmd.Accepted()
	if err != nil {
		return e
	}
	e.Attributes = props
	return e.WithAttr(insight.AttrAccept, accepted...)
}
