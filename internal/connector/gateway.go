package connector

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/roach88/datagate/internal/command"
	"github.com/roach88/datagate/internal/engine"
	"github.com/roach88/datagate/internal/insight"
	"github.com/roach88/datagate/internal/security"
)

// GatewayOptions configures NewGateway.
type GatewayOptions struct {
	Router     engine.Router
	Authorizer *security.Authorizer

	// Events receives command lifecycle events. Defaults to insight.Discard.
	Events insight.Emitter

	// Tokens generates flow tokens. Defaults to insight.UUIDv7Generator.
	Tokens insight.FlowTokenGenerator

	// Workers is the worker pool size. Defaults to 64.
	Workers int

	// RateLimit is the admission rate in commands per second. Zero
	// disables throttling.
	RateLimit float64
	RateBurst int
}

// Gateway is the canonical connector chain with the worker pool it owns.
type Gateway struct {
	Connector
	pool *ants.Pool
}

// NewGateway assembles Recover(Events(Throttle(Scheduled(Invoker)))).
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.Events == nil {
		opts.Events = insight.Discard
	}
	if opts.Tokens == nil {
		opts.Tokens = insight.UUIDv7Generator{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 64
	}

	pool, err := NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	mws := []Middleware{Recover(), Events(opts.Events, opts.Tokens)}
	if opts.RateLimit > 0 {
		burst := max(opts.RateBurst, 1)
		mws = append(mws, Throttle(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}
	mws = append(mws, Scheduled(pool))

	return &Gateway{
		Connector: Chain(NewInvoker(opts.Router, opts.Authorizer), mws...),
		pool:      pool,
	}, nil
}

// Invoke runs cmd to completion, writing its result to w, and returns the
// result's media type.
func (g *Gateway) Invoke(ctx context.Context, cmd command.Command, w io.Writer) (string, error) {
	f := g.Accept(ctx, cmd)
	res, err := f.Await(ctx)
	if err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() { res.Close() })
	defer stop()

	if err := res.Write(w); err != nil {
		return res.ContentType(), err
	}
	return res.ContentType(), nil
}

// Running returns the number of busy workers.
func (g *Gateway) Running() int {
	return g.pool.Running()
}

// Close waits up to three seconds for running work and releases the pool.
func (g *Gateway) Close() error {
	return g.pool.ReleaseTimeout(3 * time.Second)
}
