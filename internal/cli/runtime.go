package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/datagate/internal/catalog"
	"github.com/roach88/datagate/internal/config"
	"github.com/roach88/datagate/internal/connector"
	"github.com/roach88/datagate/internal/insight"
	"github.com/roach88/datagate/internal/security"
	"github.com/roach88/datagate/internal/store"
	"github.com/roach88/datagate/internal/telemetry"
)

// runtime is the process-wide wiring shared by the commands: the store, the
// event pipeline, the director and, once started, the gateway.
type runtime struct {
	env      config.Env
	store    *store.Store
	journal  *insight.Journal
	events   insight.Emitter
	registry *prometheus.Registry
	director *catalog.Director
	gateway  *connector.Gateway

	shutdownTracing func(context.Context) error
}

// loadEnv reads the process configuration; --db overrides DATAGATE_DB.
func loadEnv(opts *RootOptions) (config.Env, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return config.Env{}, WrapExitError(ExitCommandError, "invalid environment", err)
	}
	if opts.Database != "" {
		env.Database = opts.Database
	}
	return env, nil
}

// openRuntime opens the store and wires the event pipeline and the director.
// The director is not started; call start before invoking commands.
func openRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	env, err := loadEnv(opts)
	if err != nil {
		return nil, err
	}

	slog.Debug("opening database", "path", env.Database)
	st, err := store.Open(env.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	rt := &runtime{env: env, store: st, registry: prometheus.NewRegistry()}
	if err := rt.wire(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: rt.env.ServiceName,
		Endpoint:    rt.env.OTelEndpoint,
		SampleRatio: rt.env.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	rt.shutdownTracing = shutdown

	// Resume the clock after the last journaled event.
	last, err := rt.store.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("read journal position: %w", err)
	}
	metrics, err := insight.NewMetrics(rt.registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	rt.journal = insight.NewJournal(rt.store)
	go func() {
		if err := rt.journal.Run(context.Background()); err != nil {
			slog.Error("journal stopped", "error", err)
		}
	}()
	rt.events = insight.Stamp(insight.NewClockAt(last), insight.Fanout{
		rt.journal,
		insight.NewLogEmitter(nil),
		metrics,
	})

	rt.director = catalog.NewDirector(
		catalog.New(rt.events),
		catalog.NewAssembler(),
		rt.store,
		catalog.WithLockTimeout(rt.env.LockTimeout),
	)
	return nil
}

// start redeploys the persisted containers and opens the gateway.
func (rt *runtime) start(ctx context.Context) error {
	if err := rt.director.Start(ctx); err != nil {
		return err
	}

	authz, err := security.NewAuthorizer()
	if err != nil {
		return fmt.Errorf("create authorizer: %w", err)
	}
	gw, err := connector.NewGateway(connector.GatewayOptions{
		Router:     catalog.NewRouter(rt.director.Catalog()),
		Authorizer: authz,
		Events:     rt.events,
		Workers:    rt.env.Workers,
		RateLimit:  rt.env.RateLimit,
		RateBurst:  rt.env.RateBurst,
	})
	if err != nil {
		return err
	}
	rt.gateway = gw

	busy := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "datagate",
		Name:      "workers_busy",
		Help:      "Number of workers running a command.",
	}, func() float64 { return float64(gw.Running()) })
	if err := rt.registry.Register(busy); err != nil {
		return fmt.Errorf("register worker gauge: %w", err)
	}
	return nil
}

// Close shuts everything down in reverse order of construction. Events
// still queued in the journal are written before the store is closed.
func (rt *runtime) Close() {
	if rt.gateway != nil {
		if err := rt.gateway.Close(); err != nil {
			slog.Warn("worker pool did not drain", "error", err)
		}
	}
	if rt.director != nil {
		rt.director.Shutdown()
	}
	if rt.journal != nil {
		rt.journal.Close()
		select {
		case <-rt.journal.Done():
		case <-time.After(5 * time.Second):
			slog.Warn("journal did not drain", "pending", rt.journal.Pending())
		}
	}
	if rt.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.shutdownTracing(ctx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}
	if err := rt.store.Close(); err != nil {
		slog.Warn("failed to close database", "error", err)
	}
}

// metricLines renders the non-zero counters and gauges of the runtime
// registry.
func (rt *runtime) metricLines() ([]string, error) {
	families, err := rt.registry.Gather()
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if g := m.GetGauge(); g != nil {
				v = g.GetValue()
			}
			if v == 0 {
				continue
			}
			line := mf.GetName()
			for _, lp := range m.GetLabel() {
				line += fmt.Sprintf(" %s=%q", lp.GetName(), lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s %g", line, v))
		}
	}
	return lines, nil
}
