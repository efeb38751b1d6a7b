package insight

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts events in Prometheus.
type Metrics struct {
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datagate",
			Name:      "events_total",
			Help:      "Number of emitted events by kind and schema.",
		}, []string{"kind", "schema"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datagate",
			Name:      "command_failures_total",
			Help:      "Number of failed commands by reason.",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.events, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Emit implements Emitter.
func (m *Metrics) Emit(e Event) {
	m.events.WithLabelValues(string(e.Kind), e.Schema).Inc()
	if e.Kind == KindFailed {
		m.failures.WithLabelValues(e.Attr(AttrReason)).Inc()
	}
}
