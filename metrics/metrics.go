package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Total relay requests by opcode and result.",
		},
		[]string{"opcode", "result"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "msgrelay",
			Subsystem: "relay",
			Name:      "request_duration_seconds",
			Help:      "Relay request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"opcode", "result"},
	)
	messagesStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "messages",
			Name:      "stored_total",
			Help:      "Messages accepted for relay by type.",
		},
		[]string{"type"},
	)
	messagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "messages",
			Name:      "delivered_total",
			Help:      "Messages handed to their recipient and deleted.",
		},
	)
	contentBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "messages",
			Name:      "content_bytes_total",
			Help:      "Encrypted content bytes accepted for relay.",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "msgrelay",
			Subsystem: "relay",
			Name:      "active_connections",
			Help:      "Client connections currently being served.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requests, requestDuration, messagesStored, messagesDelivered, contentBytes, activeConnections)
	})
}

func RecordRequest(opcode, result string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(opcode, result).Inc()
	requestDuration.WithLabelValues(opcode, result).Observe(duration.Seconds())
}

func RecordMessageStored(messageType string, size int) {
	RegisterMetrics()
	messagesStored.WithLabelValues(messageType).Inc()
	contentBytes.Add(float64(size))
}

func RecordMessagesDelivered(count int) {
	RegisterMetrics()
	messagesDelivered.Add(float64(count))
}

func ConnectionOpened() {
	RegisterMetrics()
	activeConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	activeConnections.Dec()
}

// Serve exposes /metrics on address until ctx is cancelled.
func Serve(ctx context.Context, address string, logger zerolog.Logger) error {
	RegisterMetrics()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen metrics on %q: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", listener.Addr().String()).Msg("metrics listener started")
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
