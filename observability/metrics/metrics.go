// Package metrics exposes the lending market's Coordinator operations as
// Prometheus series, adapted from the teacher's observability module:
// two CounterVecs and one HistogramVec, lazily initialized behind a
// sync.Once and named under "weft_lending_market_".
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Coordinator implements lendingmarket.Metrics against Prometheus.
type Coordinator struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	once     sync.Once
	instance *Coordinator
)

// Default returns the process-wide singleton, registering its collectors
// with the default registry the first time it's called.
func Default() *Coordinator {
	once.Do(func() {
		instance = &Coordinator{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "weft",
				Subsystem: "lending_market",
				Name:      "operations_total",
				Help:      "Total lending market coordinator operations by name and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "weft",
				Subsystem: "lending_market",
				Name:      "operation_errors_total",
				Help:      "Total lending market coordinator operation errors by name.",
			}, []string{"operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "weft",
				Subsystem: "lending_market",
				Name:      "operation_duration_seconds",
				Help:      "Lending market coordinator operation latency by name.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(instance.requests, instance.errors, instance.latency)
	})
	return instance
}

// ObserveOperation implements lendingmarket.Metrics.
func (c *Coordinator) ObserveOperation(name string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.errors.WithLabelValues(name).Inc()
	}
	c.requests.WithLabelValues(name, outcome).Inc()
	c.latency.WithLabelValues(name).Observe(duration.Seconds())
}
