// Package metrics exposes run progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "chatload"

// Metrics implements the orchestrator and workflow recorders.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	sessionsSucceeded prometheus.Counter
	sessionsFailed    prometheus.Counter
	attemptsRetried   prometheus.Counter
	sessionsActive    prometheus.Gauge
	messagesConfirmed prometheus.Counter
	confirmTimeouts   prometheus.Counter
	sessionDuration   prometheus.Histogram
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions handed to a worker.",
		}),
		sessionsSucceeded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_succeeded_total",
			Help:      "Sessions whose every planned message was confirmed.",
		}),
		sessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Sessions that failed after all retries.",
		}),
		attemptsRetried: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_attempts_retried_total",
			Help:      "Session attempts started after a failed attempt.",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently holding a concurrency slot.",
		}),
		messagesConfirmed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_confirmed_total",
			Help:      "Messages whose token was observed in network traffic.",
		}),
		confirmTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_timed_out_total",
			Help:      "Confirmation attempts that ended without the token.",
		}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of a session across all its attempts.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SessionStarted() {
	m.sessionsStarted.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionFinished(succeeded bool, elapsed time.Duration) {
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(elapsed.Seconds())
	if succeeded {
		m.sessionsSucceeded.Inc()
	} else {
		m.sessionsFailed.Inc()
	}
}

func (m *Metrics) AttemptRetried()     { m.attemptsRetried.Inc() }
func (m *Metrics) MessageConfirmed()   { m.messagesConfirmed.Inc() }
func (m *Metrics) ConfirmationMissed() { m.confirmTimeouts.Inc() }

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return r
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln, logger)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics listener started.", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Metrics listener stopped.")
	return nil
}
