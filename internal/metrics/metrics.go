package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rollcall"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Delivery attempts by result (success or failure kind).",
		},
		[]string{"result"},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_pending",
			Help:      "Tasks waiting for confirmation.",
		},
	)

	backoffSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_backoff_seconds",
			Help:      "Chosen retry backoff delays.",
			Buckets:   []float64{2, 5, 10, 15, 20, 25},
		},
	)

	requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_request_duration_seconds",
			Help:      "Duration of delivery requests.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	networkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the device is considered online.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncAttempts, queuePending, backoffSeconds, requestDuration, networkOnline)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveAttempt records the outcome and duration of one delivery attempt.
func ObserveAttempt(result string, took time.Duration) {
	syncAttempts.WithLabelValues(result).Inc()
	requestDuration.Observe(took.Seconds())
}

func SetPending(n int) {
	queuePending.Set(float64(n))
}

func ObserveBackoff(d time.Duration) {
	backoffSeconds.Observe(d.Seconds())
}

func SetOnline(online bool) {
	if online {
		networkOnline.Set(1)
		return
	}
	networkOnline.Set(0)
}
