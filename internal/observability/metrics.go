package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions        prometheus.Gauge
	SendCycles            *prometheus.CounterVec
	StreamFragments       prometheus.Counter
	DecodeErrors          *prometheus.CounterVec
	MemoryWrites          *prometheus.CounterVec
	TitleGenerations      prometheus.Counter
	StaleStreamsDiscarded prometheus.Counter
	FirstTokenLatency     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connected chat sessions.",
		}),
		SendCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_cycles_total",
			Help:      "Send cycles by outcome.",
		}, []string{"outcome"}),
		StreamFragments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Streamed completion fragments delivered to clients.",
		}),
		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Recoverable decode failures by stage.",
		}, []string{"stage"}),
		MemoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Memory upserts by scope.",
		}, []string{"scope"}),
		TitleGenerations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "title_generations_total",
			Help:      "One-shot conversation title generations.",
		}),
		StaleStreamsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_streams_discarded_total",
			Help:      "Completed streams discarded because the active conversation changed.",
		}),
		FirstTokenLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_token_latency_ms",
			Help:      "Latency to first assistant fragment in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
	}
}

func (m *Metrics) ObserveFirstTokenLatency(d time.Duration) {
	m.FirstTokenLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
