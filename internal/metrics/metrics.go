// Package metrics owns the Prometheus registry and the scrape listener
// shared by the scheduler and worker binaries.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scheduler holds the poller's operational counters.
type Scheduler struct {
	JobsPolled   *prometheus.CounterVec
	JobsEnqueued *prometheus.CounterVec
	PollDuration prometheus.Histogram
	LockFailures prometheus.Counter
	WorkerUp     prometheus.Gauge
}

// NewScheduler registers the scheduler metric set.
func NewScheduler(reg prometheus.Registerer) *Scheduler {
	m := &Scheduler{
		JobsPolled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_jobs_polled_total",
			Help: "Total number of jobs polled",
		}, []string{"status"}),
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_jobs_enqueued_total",
			Help: "Total number of jobs enqueued to the broker",
		}, []string{"status"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_poll_duration_seconds",
			Help:    "Time spent polling for jobs",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),
		LockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_lock_acquisition_failures_total",
			Help: "Total number of lock acquisition failures",
		}),
		WorkerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_worker_up",
			Help: "Scheduler worker is running (1) or not (0)",
		}),
	}
	reg.MustRegister(m.JobsPolled, m.JobsEnqueued, m.PollDuration, m.LockFailures, m.WorkerUp)
	m.WorkerUp.Set(1)
	return m
}

// NewRegistry returns a registry pre-loaded with process and Go runtime
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.InfoContext(ctx, "metrics listener started", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
