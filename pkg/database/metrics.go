package database

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is the subset of connection pool statistics exported as metrics.
// It covers both the local database/sql handle and the remote pgx pool.
type PoolStats struct {
	InUse        int64
	Idle         int64
	Open         int64
	Max          int64
	WaitCount    int64
	WaitDuration float64 // seconds
}

// SQLDBStats adapts a database/sql handle.
func SQLDBStats(db *sql.DB) func() PoolStats {
	return func() PoolStats {
		s := db.Stats()
		return PoolStats{
			InUse:        int64(s.InUse),
			Idle:         int64(s.Idle),
			Open:         int64(s.OpenConnections),
			Max:          int64(s.MaxOpenConnections),
			WaitCount:    s.WaitCount,
			WaitDuration: s.WaitDuration.Seconds(),
		}
	}
}

// PgxPoolStats adapts a pgx pool.
func PgxPoolStats(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			InUse:        int64(s.AcquiredConns()),
			Idle:         int64(s.IdleConns()),
			Open:         int64(s.TotalConns()),
			Max:          int64(s.MaxConns()),
			WaitCount:    s.EmptyAcquireCount(),
			WaitDuration: s.AcquireDuration().Seconds(),
		}
	}
}

// PoolStatsCollector implements prometheus.Collector over a PoolStats source.
type PoolStatsCollector struct {
	pool  string
	stats func() PoolStats

	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	open         *prometheus.Desc
	max          *prometheus.Desc
	waitCount    *prometheus.Desc
	waitDuration *prometheus.Desc
}

// NewPoolStatsCollector creates a collector labelled pool=<pool>.
func NewPoolStatsCollector(pool string, stats func() PoolStats) *PoolStatsCollector {
	labels := []string{"pool"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("pos_db_pool_"+name, help, labels, nil)
	}
	return &PoolStatsCollector{
		pool:         pool,
		stats:        stats,
		inUse:        desc("in_use_connections", "Connections currently in use"),
		idle:         desc("idle_connections", "Idle connections"),
		open:         desc("open_connections", "Open connections"),
		max:          desc("max_connections", "Maximum open connections allowed"),
		waitCount:    desc("wait_count_total", "Acquires that had to wait for a connection"),
		waitDuration: desc("wait_duration_seconds_total", "Time spent waiting for a connection"),
	}
}

// Describe sends all metric descriptors to ch.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inUse
	ch <- c.idle
	ch <- c.open
	ch <- c.max
	ch <- c.waitCount
	ch <- c.waitDuration
}

// Collect reads the current statistics.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse), c.pool)
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), c.pool)
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.Open), c.pool)
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.Max), c.pool)
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(s.WaitCount), c.pool)
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, s.WaitDuration, c.pool)
}

// RegisterPoolMetrics registers a collector with reg, ignoring a duplicate
// registration of the same pool.
func RegisterPoolMetrics(reg prometheus.Registerer, pool string, stats func() PoolStats) error {
	err := reg.Register(NewPoolStatsCollector(pool, stats))
	if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return nil
	}
	return err
}
