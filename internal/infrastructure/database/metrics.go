package database

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exposes pgxpool statistics on a Prometheus registry.
// Stat() is an atomic snapshot, so collecting on every scrape is cheap.
type PoolCollector struct {
	pool *Pool

	connections      *prometheus.Desc
	maxConnections   *prometheus.Desc
	acquires         *prometheus.Desc
	acquireWait      *prometheus.Desc
	emptyAcquires    *prometheus.Desc
	canceledAcquires *prometheus.Desc
	lifetimeDestroys *prometheus.Desc
	idleDestroys     *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector builds a collector over the given pool. Register it on
// the serving registry; it holds no state of its own.
func NewPoolCollector(pool *Pool) *PoolCollector {
	return &PoolCollector{
		pool: pool,
		connections: prometheus.NewDesc(
			"npg_db_connections",
			"Connections in the pool by state.",
			[]string{"state"}, nil,
		),
		maxConnections: prometheus.NewDesc(
			"npg_db_max_connections",
			"Configured pool ceiling.",
			nil, nil,
		),
		acquires: prometheus.NewDesc(
			"npg_db_acquires_total",
			"Cumulative connection acquisitions.",
			nil, nil,
		),
		acquireWait: prometheus.NewDesc(
			"npg_db_acquire_wait_seconds_total",
			"Cumulative time spent waiting for a connection.",
			nil, nil,
		),
		emptyAcquires: prometheus.NewDesc(
			"npg_db_empty_acquires_total",
			"Acquisitions that had to wait for a free connection.",
			nil, nil,
		),
		canceledAcquires: prometheus.NewDesc(
			"npg_db_canceled_acquires_total",
			"Acquisitions abandoned because the caller's context ended.",
			nil, nil,
		),
		lifetimeDestroys: prometheus.NewDesc(
			"npg_db_max_lifetime_destroys_total",
			"Connections closed for exceeding max lifetime.",
			nil, nil,
		),
		idleDestroys: prometheus.NewDesc(
			"npg_db_max_idle_destroys_total",
			"Connections closed for exceeding max idle time.",
			nil, nil,
		),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.maxConnections
	ch <- c.acquires
	ch <- c.acquireWait
	ch <- c.emptyAcquires
	ch <- c.canceledAcquires
	ch <- c.lifetimeDestroys
	ch <- c.idleDestroys
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue,
		float64(stat.AcquiredConns()), "acquired")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue,
		float64(stat.IdleConns()), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue,
		float64(stat.ConstructingConns()), "constructing")
	ch <- prometheus.MustNewConstMetric(c.maxConnections, prometheus.GaugeValue,
		float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue,
		float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue,
		stat.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue,
		float64(stat.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.canceledAcquires, prometheus.CounterValue,
		float64(stat.CanceledAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.lifetimeDestroys, prometheus.CounterValue,
		float64(stat.MaxLifetimeDestroyCount()))
	ch <- prometheus.MustNewConstMetric(c.idleDestroys, prometheus.CounterValue,
		float64(stat.MaxIdleDestroyCount()))
}
