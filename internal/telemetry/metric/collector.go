// Package metric exposes engine, WAL, and snapshot counters in Prometheus
// format, grounded directly on the teacher's
// internal/storage.BadgerEngine.RegisterMetrics rather than the session
// counter surface the teacher's own metric package sketched but never
// finished wiring.
package metric

import "github.com/prometheus/client_golang/prometheus"

// Collector holds one backend instance's operation counters. It is created
// per Engine, not shared process-wide, so multiple engines (e.g. in
// tests) don't collide on metric names unless explicitly registered
// together.
type Collector struct {
	opsTotal    *prometheus.CounterVec
	opErrors    *prometheus.CounterVec
	walAppends  prometheus.Counter
	walBytes    prometheus.Counter
	snapshots   prometheus.Counter
	compactions prometheus.Counter
}

// NewCollector builds a Collector labelled with the backend type (ARRAY,
// RBTREE, HASH, BTREE, LSM) so metrics from differently-configured engines
// in the same process stay distinguishable once registered.
func NewCollector(backendType string) *Collector {
	constLabels := prometheus.Labels{"backend": backendType}
	return &Collector{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "concordkv",
			Subsystem:   "engine",
			Name:        "ops_total",
			Help:        "Total engine operations by kind.",
			ConstLabels: constLabels,
		}, []string{"op"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "concordkv",
			Subsystem:   "engine",
			Name:        "op_errors_total",
			Help:        "Total engine operation errors by kind and error kind.",
			ConstLabels: constLabels,
		}, []string{"op", "kind"}),
		walAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "concordkv",
			Subsystem:   "wal",
			Name:        "appends_total",
			Help:        "Total WAL records appended.",
			ConstLabels: constLabels,
		}),
		walBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "concordkv",
			Subsystem:   "wal",
			Name:        "bytes_written_total",
			Help:        "Total bytes written to the WAL.",
			ConstLabels: constLabels,
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "concordkv",
			Subsystem:   "snapshot",
			Name:        "created_total",
			Help:        "Total snapshots created.",
			ConstLabels: constLabels,
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "concordkv",
			Subsystem:   "engine",
			Name:        "compactions_total",
			Help:        "Total compaction runs.",
			ConstLabels: constLabels,
		}),
	}
}

func (c *Collector) IncOp(op string) {
	if c == nil {
		return
	}
	c.opsTotal.WithLabelValues(op).Inc()
}

func (c *Collector) IncOpError(op, kind string) {
	if c == nil {
		return
	}
	c.opErrors.WithLabelValues(op, kind).Inc()
}

func (c *Collector) IncWALAppend(bytes int) {
	if c == nil {
		return
	}
	c.walAppends.Inc()
	c.walBytes.Add(float64(bytes))
}

func (c *Collector) IncSnapshot() {
	if c == nil {
		return
	}
	c.snapshots.Inc()
}

func (c *Collector) IncCompaction() {
	if c == nil {
		return
	}
	c.compactions.Inc()
}

// Register adds every metric to registry. Engines that never call Register
// still collect in-process counts harmlessly; Register is only needed to
// expose them over /metrics.
func (c *Collector) Register(registry *prometheus.Registry) *Collector {
	registry.MustRegister(c.opsTotal, c.opErrors, c.walAppends, c.walBytes, c.snapshots, c.compactions)
	return c
}
