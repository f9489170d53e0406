// Package metrics exposes Prometheus counters for the watcher.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every collector the watcher updates.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	EventsReceived *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	TradesRecorded prometheus.Counter

	// Detection
	AlertsFired      *prometheus.CounterVec
	AlertsSuppressed prometheus.Counter
	TrackedTokens    prometheus.Gauge
	TokensEvicted    prometheus.Counter

	// Delivery
	AlertsDelivered  prometheus.Counter
	DeliveryFailures prometheus.Counter
	AlertsDropped    prometheus.Counter

	FeedReconnects prometheus.Counter
}

// New registers all collectors on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bundleradar"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_received_total",
			Help:      "Normalized feed events by kind",
		}, []string{"kind"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_dropped_total",
			Help:      "Feed messages that did not normalize to an event",
		}),
		TradesRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "trades_recorded_total",
			Help:      "Buys recorded into a token window",
		}),
		AlertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "alerts_fired_total",
			Help:      "Bundle alerts by tier",
		}, []string{"tier"}),
		AlertsSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "alerts_suppressed_total",
			Help:      "Candidate bundles held back by the market-cap gate",
		}),
		TrackedTokens: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "tracked_tokens",
			Help:      "Tokens currently held in memory",
		}),
		TokensEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "tokens_evicted_total",
			Help:      "Idle tokens removed by the sweeper",
		}),
		AlertsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "delivered_total",
			Help:      "Alerts delivered to every channel",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "delivery_failures_total",
			Help:      "Alerts whose delivery failed on at least one channel",
		}),
		AlertsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "dropped_total",
			Help:      "Alerts dropped because the queue was full",
		}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Websocket reconnects",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDelivery records the outcome of one alert delivery.
func (m *Metrics) ObserveDelivery(err error) {
	if err != nil {
		m.DeliveryFailures.Inc()
		return
	}
	m.AlertsDelivered.Inc()
}

// ObserveDrop records an alert rejected by a full queue.
func (m *Metrics) ObserveDrop() {
	m.AlertsDropped.Inc()
}

// ObserveEviction records a sweep.
func (m *Metrics) ObserveEviction(evicted []string, remaining int) {
	m.TokensEvicted.Add(float64(len(evicted)))
	m.TrackedTokens.Set(float64(remaining))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server exposes /metrics and /healthz.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer binds the handlers to addr.
func NewServer(addr string, m *Metrics, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return ctx.Err()
	}
}
