package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes recorded by the relay dispatcher.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeSendFault = "send_fault"
)

var (
	registerOnce sync.Once

	wsConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nexus",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Live WebSocket connections per channel.",
		},
		[]string{"channel"},
	)
	relayDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Relay delivery attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nexus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
)

// RegisterMetrics registers all collectors with the default registry.
// Safe to call from every service main.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(wsConnections, relayDeliveries, httpRequests, httpDuration)
	})
}

// ConnectionOpened bumps the live-connection gauge for a channel.
func ConnectionOpened(channel string) {
	wsConnections.WithLabelValues(channel).Inc()
}

// ConnectionClosed decrements the live-connection gauge for a channel.
func ConnectionClosed(channel string) {
	wsConnections.WithLabelValues(channel).Dec()
}

// RecordDelivery counts one relay attempt.
func RecordDelivery(channel, outcome string) {
	relayDeliveries.WithLabelValues(channel, outcome).Inc()
}

// RecordHTTPRequest counts one HTTP request with its duration.
func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, code).Inc()
	httpDuration.WithLabelValues(service, method, path, code).Observe(duration.Seconds())
}
