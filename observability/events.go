package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"yieldprotocol/core/types"
)

// EventMetrics counts committed ledger events.
type EventMetrics struct {
	emitted *prometheus.CounterVec
	perCall *prometheus.HistogramVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by module and type.",
			}, []string{"module", "type"}),
			perCall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "per_call",
				Help:      "Number of events a committed ledger call produced.",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
			}, []string{"op"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.perCall)
	})
	return eventRegistry
}

// RecordCommitted observes the events produced by one committed call.
func (m *EventMetrics) RecordCommitted(op string, evts []*types.Event) {
	if m == nil {
		return
	}
	m.perCall.WithLabelValues(label(op)).Observe(float64(len(evts)))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		module, eventType := splitEventType(evt.Type)
		m.emitted.WithLabelValues(module, eventType).Inc()
	}
}

// splitEventType maps "vault.deposit" to ("vault", "vault.deposit").
func splitEventType(eventType string) (string, string) {
	normalized := strings.ToLower(strings.TrimSpace(eventType))
	if normalized == "" {
		return "unknown", "unknown"
	}
	module, _, found := strings.Cut(normalized, ".")
	if !found {
		return "unknown", normalized
	}
	return module, normalized
}
