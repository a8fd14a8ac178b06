// Package metrics exposes Prometheus counters and gauges for the scheduled-
// execution engine, upgraded from the teacher's expvar-based
// internal/metrics package to github.com/prometheus/client_golang — a real
// third-party metrics library present in the broader retrieved pack via
// cklxx-elephant.ai — since spec.md's Non-goals exclude a dashboard, not
// observability itself.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the engine emits. FetchRetries and
// MailRetries are registered, but the Fetcher and Mailer hold no Metrics
// handle, so nothing increments them and they always read zero.
type Metrics struct {
	JobsScheduled  prometheus.Counter
	JobsSucceeded  prometheus.Counter
	JobsFailed     prometheus.Counter
	FiresCoalesced prometheus.Counter
	FetchRetries   prometheus.Counter
	MailRetries    prometheus.Counter
	SandboxTimeout prometheus.Counter
	ActiveRuns     prometheus.Gauge
}

// New registers every metric against a fresh registry and returns both the
// Metrics handle and the registry's HTTP handler.
func New() (*Metrics, http.Handler) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		JobsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "tablecron_jobs_scheduled_total",
			Help: "Register calls accepted by the scheduler, re-registrations included.",
		}),
		JobsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "tablecron_jobs_succeeded_total",
			Help: "Runs that completed with a delivered success email.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tablecron_jobs_failed_total",
			Help: "Runs that ended in a fetch, transform, or terminal mail failure.",
		}),
		FiresCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "tablecron_fires_coalesced_total",
			Help: "Cron fires skipped because the previous run of the same job was still in flight.",
		}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "tablecron_fetch_retries_total",
			Help: "Transient fetch attempts that were retried.",
		}),
		MailRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "tablecron_mail_retries_total",
			Help: "Transient mail delivery attempts that were retried.",
		}),
		SandboxTimeout: factory.NewCounter(prometheus.CounterOpts{
			Name: "tablecron_sandbox_timeouts_total",
			Help: "Transform evaluations aborted by the hard wall-clock deadline.",
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tablecron_active_runs",
			Help: "Runs currently executing.",
		}),
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve starts a metrics HTTP server bound to addr, shutting down when ctx
// is cancelled. Mirrors the teacher's StartMetricsServer lifecycle.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().Format(time.RFC3339))
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
