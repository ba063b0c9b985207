package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// botRequests counts handled inbound messages by kind and outcome.
	botRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_requests_total",
			Help: "Inbound messages handled, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// botGenLat records AI generation latency in seconds.
	botGenLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_generation_duration_seconds",
			Help:    "Duration of AI generation calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"kind", "result"},
	)

	// botInflight gauges messages currently being handled.
	botInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_requests_inflight",
			Help: "Inbound messages currently being handled.",
		},
	)

	// botDropped counts updates dropped before handling (duplicate, rate limited).
	botDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_dropped_total",
			Help: "Transport updates dropped before handling, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(botRequests, botGenLat, botInflight, botDropped)
}

// ObserveRequest counts one handled message.
func ObserveRequest(kind, outcome string) {
	botRequests.WithLabelValues(kind, outcome).Inc()
}

// ObserveGeneration records the latency of one AI call. result is "ok" or "error".
func ObserveGeneration(kind string, d time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	botGenLat.WithLabelValues(kind, result).Observe(d.Seconds())
}

// TrackInflight increments the in-flight gauge and returns its decrement.
func TrackInflight() func() {
	botInflight.Inc()
	return botInflight.Dec
}

// ObserveDropped counts an update dropped for reason.
func ObserveDropped(reason string) {
	botDropped.WithLabelValues(reason).Inc()
}
