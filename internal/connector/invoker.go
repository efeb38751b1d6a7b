package connector

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/insight"
	"github.com/roach88/datagate/internal/security"
)

const tracerName = "github.com/roach88/datagate/internal/connector"

// Invoker is the innermost connector. It routes the command to an engine,
// prepares it, checks the caller's permission and runs the invocation.
//
// The caller's security.Context is read from the Accept context. A command
// that fails authorization is closed without executing.
type Invoker struct {
	router engine.Router
	authz  *security.Authorizer
	tracer trace.Tracer
}

// NewInvoker creates an invoker.
func NewInvoker(router engine.Router, authz *security.Authorizer) *Invoker {
	return &Invoker{
		router: router,
		authz:  authz,
		tracer: otel.Tracer(tracerName),
	}
}

// Accept implements Connector.
func (iv *Invoker) Accept(ctx context.Context, cmd command.Command) *Future {
	return NewFuture(ctx, func(ctx context.Context, s Settler) error {
		inv, err := iv.prepare(ctx, cmd)
		if err != nil {
			return err
		}
		s.Accepted(inv.Properties())

		ctx, span := iv.tracer.Start(ctx, "datagate.execute",
			trace.WithAttributes(attribute.String("datagate.media_type", inv.Produces())))
		defer span.End()

		if err := engine.NewRunner(inv).Run(ctx, s.Deliver); err != nil {
			recordError(span, err)
			if !engine.IsCancelled(err) {
				slog.Debug("invocation failed", "flow", insight.FlowFrom(ctx), "error", err)
			}
			return err
		}
		return nil
	})
}

func (iv *Invoker) prepare(ctx context.Context, cmd command.Command) (engine.Invocation, error) {
	_, span := iv.tracer.Start(ctx, "datagate.prepare")
	defer span.End()

	if err := cmd.FailIfNotValid(); err != nil {
		recordError(span, err)
		return nil, err
	}
	eng, err := iv.router.Select(cmd)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("datagate.language", eng.Language().String()))

	inv, err := eng.Prepare(cmd)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	sc := security.FromContext(ctx)
	if err := iv.authz.Check(sc, inv.Requires()); err != nil {
		if cerr := inv.Close(); cerr != nil {
			slog.Warn("failed to close rejected invocation", "error", cerr)
		}
		recordError(span, err)
		return nil, err
	}
	return inv, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, Reason(err))
}
