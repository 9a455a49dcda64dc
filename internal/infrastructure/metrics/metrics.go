package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "davkeep"

// Collector holds the rotation metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server

	backups        *prometheus.CounterVec
	backupDuration *prometheus.HistogramVec
	uploadedBytes  *prometheus.CounterVec
	archived       *prometheus.CounterVec
	pruned         *prometheus.CounterVec
	lastSuccess    *prometheus.GaugeVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backup runs by job and result.",
		}, []string{"job", "result"}),
		backupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Time spent per backup run, including rotation.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
		uploadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes written to the remote store.",
		}, []string{"job"}),
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_total",
			Help:      "Existing remote files renamed to a timestamped archive.",
		}, []string{"job"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_total",
			Help:      "Archived backups deleted by the retention limit.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup.",
		}, []string{"job"}),
	}

	c.registry.MustRegister(
		c.backups,
		c.backupDuration,
		c.uploadedBytes,
		c.archived,
		c.pruned,
		c.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveBackup(job string, duration time.Duration, size int64, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	} else {
		c.uploadedBytes.WithLabelValues(job).Add(float64(size))
		c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}

	c.backups.WithLabelValues(job, result).Inc()
	c.backupDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (c *Collector) ObserveRotation(job string, archived bool, pruned int) {
	if archived {
		c.archived.WithLabelValues(job).Inc()
	}
	if pruned > 0 {
		c.pruned.WithLabelValues(job).Add(float64(pruned))
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until Shutdown is called.
func (c *Collector) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	server := c.server
	c.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	return nil
}
