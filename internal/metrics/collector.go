// Package metrics exposes the daemon's Prometheus metrics: queue depth,
// migration outcomes, scan duration, and worker failure counts.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls whether and where the metrics HTTP endpoint listens.
type Config struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string
}

// Collector owns the registry and every metric series the daemon emits.
// One Collector is created at startup and shared by every component.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	QueueDepth         *prometheus.GaugeVec
	MigrationsTotal    *prometheus.CounterVec
	MigrationDuration  *prometheus.HistogramVec
	ScanDuration       prometheus.Histogram
	ScanCandidates     prometheus.Counter
	WorkerFailures     *prometheus.CounterVec
	ObjectStoreRetries *prometheus.CounterVec

	server *http.Server
}

// NewCollector builds and registers every metric. Passing a disabled
// config yields a Collector whose recording methods are no-ops,
// so callers never need to nil-check it.
func NewCollector(config Config) (*Collector, error) {
	if config.Namespace == "" {
		config.Namespace = "cloudtiering"
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		config:   config,
		registry: registry,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "queue_depth",
			Help:      "Current number of records resident in a queue.",
		}, []string{"queue"}),
		MigrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "migrations_total",
			Help:      "Total migration attempts by direction and outcome.",
		}, []string{"direction", "outcome"}),
		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "migration_duration_seconds",
			Help:      "Duration of a single migration attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"direction"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of a full filesystem scan pass.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
		}),
		ScanCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "scan_candidates_total",
			Help:      "Total demotion candidates enqueued by the scanner.",
		}),
		WorkerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "worker_failures_total",
			Help:      "Failures observed by a worker, by kind.",
		}, []string{"worker", "kind"}),
		ObjectStoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "object_store_retries_total",
			Help:      "Retry attempts issued against the object store.",
		}, []string{"operation"}),
	}

	collectors := []prometheus.Collector{
		c.QueueDepth, c.MigrationsTotal, c.MigrationDuration,
		c.ScanDuration, c.ScanCandidates, c.WorkerFailures, c.ObjectStoreRetries,
	}
	for _, m := range collectors {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Start serves the metrics endpoint until ctx is cancelled. A no-op on a
// disabled Collector.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// SetQueueDepth records the current size of a named queue.
func (c *Collector) SetQueueDepth(queue string, depth int) {
	if !c.config.Enabled {
		return
	}
	c.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordMigration records a finished migration attempt and its duration.
func (c *Collector) RecordMigration(direction, outcome string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.MigrationsTotal.WithLabelValues(direction, outcome).Inc()
	c.MigrationDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordScan records the duration of a completed scan pass and how many
// candidates it enqueued.
func (c *Collector) RecordScan(duration time.Duration, candidates int) {
	if !c.config.Enabled {
		return
	}
	c.ScanDuration.Observe(duration.Seconds())
	c.ScanCandidates.Add(float64(candidates))
}

// RecordWorkerFailure increments the failure counter for a worker/kind pair.
func (c *Collector) RecordWorkerFailure(worker, kind string) {
	if !c.config.Enabled {
		return
	}
	c.WorkerFailures.WithLabelValues(worker, kind).Inc()
}

// RecordObjectStoreRetry increments the retry counter for an operation.
func (c *Collector) RecordObjectStoreRetry(operation string) {
	if !c.config.Enabled {
		return
	}
	c.ObjectStoreRetries.WithLabelValues(operation).Inc()
}
