// Package metrics exports store and ingest measurements to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements store.Metrics on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	queries       *prometheus.HistogramVec
	rebuilds      *prometheus.CounterVec
	rebuildTime   *prometheus.HistogramVec
	writes        *prometheus.CounterVec
	evictions     prometheus.Counter
	ingestedFiles *prometheus.CounterVec
	documents     prometheus.Gauge
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pki_query_duration_seconds",
				Help:    "Duration of similarity queries by search path",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"path"},
		),
		rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pki_index_rebuilds_total",
				Help: "Total accelerated index rebuilds by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		rebuildTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pki_index_rebuild_duration_seconds",
				Help:    "Duration of accelerated index rebuilds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"backend"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pki_documents_written_total",
				Help: "Total documents written by operation",
			},
			[]string{"op"},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pki_documents_evicted_total",
				Help: "Total documents removed by garbage collection",
			},
		),
		ingestedFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pki_ingested_files_total",
				Help: "Total files seen by ingestion by result",
			},
			[]string{"result"},
		),
		documents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pki_documents",
				Help: "Documents currently stored",
			},
		),
	}

	r.registry.MustRegister(
		r.queries, r.rebuilds, r.rebuildTime, r.writes, r.evictions, r.ingestedFiles, r.documents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveQuery(path string, d time.Duration) {
	r.queries.WithLabelValues(path).Observe(d.Seconds())
}

func (r *Recorder) ObserveRebuild(backend, outcome string, d time.Duration) {
	r.rebuilds.WithLabelValues(backend, outcome).Inc()
	r.rebuildTime.WithLabelValues(backend).Observe(d.Seconds())
}

func (r *Recorder) ObserveWrite(op string, n int) {
	r.writes.WithLabelValues(op).Add(float64(n))
}

func (r *Recorder) ObserveEviction(n int) {
	r.evictions.Add(float64(n))
}

// ObserveIngest counts a file handled by ingestion; result is "indexed",
// "skipped" or "failed".
func (r *Recorder) ObserveIngest(result string) {
	r.ingestedFiles.WithLabelValues(result).Inc()
}

// SetDocuments records the current document count.
func (r *Recorder) SetDocuments(n int) {
	r.documents.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Debug("Serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
