// Package metrics provides Prometheus metrics for retail-sync.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for retail-sync.
type Metrics struct {
	// Run metrics
	Runs             *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	StageDuration    *prometheus.HistogramVec
	RunsBusy         prometheus.Counter
	LastRunTimestamp prometheus.Gauge
	LastPublish      prometheus.Gauge

	// Fetch metrics
	FetchRetries  *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	PayloadBytes  prometheus.Gauge

	// Record metrics
	RowsAccepted *prometheus.GaugeVec
	RowsRejected *prometheus.GaugeVec

	// Artifact metrics
	ArtifactBytes prometheus.Gauge
	ArtifactFiles prometheus.Gauge

	// Error metrics
	StorageErrors *prometheus.CounterVec
	CatalogErrors prometheus.Counter
	NotifyErrors  prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"` // e.g. ":9090"
	Namespace string `yaml:"namespace"`
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// Init registers the global metrics with the default registry.
// Only the first call has an effect.
func Init(namespace string) *Metrics {
	initOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer, namespace)
	})
	return defaultMetrics
}

// New creates metrics registered with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "retail_sync"
	}
	f := promauto.With(reg)

	return &Metrics{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a pipeline run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"outcome"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"stage"},
		),
		RunsBusy: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_busy_total",
				Help:      "Runs skipped because another run held the lock",
			},
		),
		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed run",
			},
		),
		LastPublish: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_publish_timestamp_seconds",
				Help:      "Unix time of the last published generation",
			},
		),
		FetchRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_retries_total",
				Help:      "Total number of fetch retry attempts",
			},
			[]string{"source_type"},
		),
		FetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Total number of failed fetches",
			},
			[]string{"source_type", "error"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time to fetch the source document, retries included",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"source_type"},
		),
		PayloadBytes: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "payload_bytes",
				Help:      "Size of the last fetched source document",
			},
		),
		RowsAccepted: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rows_accepted",
				Help:      "Rows accepted by the last parse",
			},
			[]string{"set"},
		),
		RowsRejected: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rows_rejected",
				Help:      "Rows rejected by the last parse",
			},
			[]string{"set"},
		),
		ArtifactBytes: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_bytes",
				Help:      "Total size of the last published generation",
			},
		),
		ArtifactFiles: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_files",
				Help:      "Number of files in the last published generation",
			},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of artifact write errors",
			},
			[]string{"phase"},
		),
		CatalogErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of run catalog errors",
			},
		),
		NotifyErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_errors_total",
				Help:      "Total number of publication event errors",
			},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer serves /metrics and /health on address until ctx is done.
func StartServer(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// IncRuns counts a finished run.
func (m *Metrics) IncRuns(outcome string, seconds float64) {
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(seconds)
	m.LastRunTimestamp.SetToCurrentTime()
}

// IncRunsBusy counts a run skipped because of the lock.
func (m *Metrics) IncRunsBusy() {
	m.RunsBusy.Inc()
}

// ObserveStage records the time spent in one pipeline stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// IncFetchRetries increments the fetch retry counter.
func (m *Metrics) IncFetchRetries(sourceType string) {
	m.FetchRetries.WithLabelValues(sourceType).Inc()
}

// IncFetchErrors increments the fetch error counter.
func (m *Metrics) IncFetchErrors(sourceType, kind string) {
	m.FetchErrors.WithLabelValues(sourceType, kind).Inc()
}

// ObserveFetchDuration records one fetch including retries.
func (m *Metrics) ObserveFetchDuration(sourceType string, seconds float64) {
	m.FetchDuration.WithLabelValues(sourceType).Observe(seconds)
}

// SetPayloadBytes records the size of the fetched document.
func (m *Metrics) SetPayloadBytes(n int) {
	m.PayloadBytes.Set(float64(n))
}

// SetRows records accepted and rejected row counts for a record set.
func (m *Metrics) SetRows(set string, accepted, rejected int) {
	m.RowsAccepted.WithLabelValues(set).Set(float64(accepted))
	m.RowsRejected.WithLabelValues(set).Set(float64(rejected))
}

// SetPublished records a published generation.
func (m *Metrics) SetPublished(files int, bytes int64) {
	m.ArtifactFiles.Set(float64(files))
	m.ArtifactBytes.Set(float64(bytes))
	m.LastPublish.SetToCurrentTime()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(phase string) {
	m.StorageErrors.WithLabelValues(phase).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors() {
	m.CatalogErrors.Inc()
}

// IncNotifyErrors increments the publication event errors counter.
func (m *Metrics) IncNotifyErrors() {
	m.NotifyErrors.Inc()
}
