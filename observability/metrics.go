package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yieldprotocol"

// LedgerMetrics tracks ledger call activity and the headline protocol gauges.
type LedgerMetrics struct {
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	rate     prometheus.Gauge
	backing  prometheus.Gauge
	reserves *prometheus.GaugeVec
	height   prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "calls_total",
				Help:      "Count of ledger calls segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Count of rejected ledger calls segmented by operation and error kind.",
			}, []string{"op", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for ledger calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			rate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "exchange_rate",
				Help:      "Dollar value of one share.",
			}),
			backing: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "total_backing_usd",
				Help:      "Dollar backing of the outstanding token supply.",
			}),
			reserves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "reserve_usd",
				Help:      "Protocol fee reserve held by each vault.",
			}, []string{"class"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Number of committed ledger calls.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.calls,
			ledgerRegistry.errors,
			ledgerRegistry.latency,
			ledgerRegistry.rate,
			ledgerRegistry.backing,
			ledgerRegistry.reserves,
			ledgerRegistry.height,
		)
	})
	return ledgerRegistry
}

// ObserveCall records the outcome of a ledger call. kind is the error
// classification and is ignored on success.
func (m *LedgerMetrics) ObserveCall(op, kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op = label(op)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, label(kind)).Inc()
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetHeight publishes the committed height.
func (m *LedgerMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// SetExchangeRate publishes the share rate given in ray precision.
func (m *LedgerMetrics) SetExchangeRate(rateRay *big.Int) {
	if m == nil || rateRay == nil {
		return
	}
	m.rate.Set(ratioToFloat(rateRay, rayUnit))
}

// SetBacking publishes the token backing in micro-dollars.
func (m *LedgerMetrics) SetBacking(micro *big.Int) {
	if m == nil || micro == nil {
		return
	}
	m.backing.Set(ratioToFloat(micro, microUnit))
}

// SetReserve publishes a vault's fee reserve in micro-dollars.
func (m *LedgerMetrics) SetReserve(class string, micro *big.Int) {
	if m == nil || micro == nil {
		return
	}
	m.reserves.WithLabelValues(label(class)).Set(ratioToFloat(micro, microUnit))
}

// HTTPMetrics captures request metrics for the daemon's HTTP surface.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// HTTP returns the lazily-initialised HTTP metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Count of HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a served request with the HTTP status that was written.
func (m *HTTPMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = label(route)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for a route.
func (m *HTTPMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(route)).Inc()
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

var (
	rayUnit   = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))
	microUnit = new(big.Float).SetInt64(1_000_000)
)

func ratioToFloat(v *big.Int, unit *big.Float) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(v), unit).Float64()
	if math.IsInf(out, 0) || math.IsNaN(out) {
		return 0
	}
	return out
}
