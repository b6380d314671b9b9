// Package metrics exposes Prometheus counters for discovery and transfer
// activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes migration metrics. Each collector owns its
// registry, so parallel tests and embedded use never trip duplicate
// registration.
type Collector struct {
	registry *prometheus.Registry

	dirsScanned     prometheus.Counter
	filesDiscovered prometheus.Counter
	bytesDiscovered prometheus.Counter
	transfersTotal  *prometheus.CounterVec
	bytesMigrated   prometheus.Counter
	inflight        prometheus.Gauge
	duration        prometheus.Histogram
}

// New creates a metrics collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		dirsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrate_directories_scanned_total",
			Help: "Directories listed successfully during discovery",
		}),
		filesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrate_files_discovered_total",
			Help: "Files newly added to the inventory",
		}),
		bytesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrate_bytes_discovered_total",
			Help: "Bytes of newly discovered files",
		}),
		transfersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_transfers_total",
			Help: "Finished transfers by outcome",
		}, []string{"status"}),
		bytesMigrated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "migrate_bytes_transferred_total",
			Help: "Bytes successfully written to the destination",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migrate_inflight_transfers",
			Help: "Transfers currently in progress",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "migrate_transfer_duration_seconds",
			Help:    "Time taken to transfer one file",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.dirsScanned,
		c.filesDiscovered,
		c.bytesDiscovered,
		c.transfersTotal,
		c.bytesMigrated,
		c.inflight,
		c.duration,
	)
	return c
}

// IncDirScanned counts one successfully listed directory.
func (c *Collector) IncDirScanned() {
	c.dirsScanned.Inc()
}

// AddDiscovered counts newly inventoried files and their bytes.
func (c *Collector) AddDiscovered(files int, bytes int64) {
	c.filesDiscovered.Add(float64(files))
	c.bytesDiscovered.Add(float64(bytes))
}

// IncTransferSuccess counts one migrated file and its bytes.
func (c *Collector) IncTransferSuccess(bytes int64) {
	c.transfersTotal.WithLabelValues("success").Inc()
	c.bytesMigrated.Add(float64(bytes))
}

// IncTransferFailed counts one file whose retries are exhausted.
func (c *Collector) IncTransferFailed() {
	c.transfersTotal.WithLabelValues("failed").Inc()
}

// ObserveTransfer records how long one transfer took.
func (c *Collector) ObserveTransfer(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

// SetInflight sets the number of transfers running right now.
func (c *Collector) SetInflight(n int) {
	c.inflight.Set(float64(n))
}

// Handler serves this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr and blocks. Used by the headless
// discover and migrate commands; serve exposes Handler on its own router.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(addr, mux)
}
