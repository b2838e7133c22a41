package metrics

import (
	"database/sql"
	"sync/atomic"
	"time"
)

// DBPoolStats is the subset of sql.DBStats reported on /health/metrics.
type DBPoolStats struct {
	OpenConnections    int
	InUse              int
	Idle               int
	MaxOpenConnections int
	WaitCount          int64
	WaitDuration       time.Duration
}

// ToMap converts stats to a map for JSON serialization.
func (s DBPoolStats) ToMap() map[string]any {
	return map[string]any{
		"open_connections":     s.OpenConnections,
		"in_use":               s.InUse,
		"idle":                 s.Idle,
		"max_open_connections": s.MaxOpenConnections,
		"wait_count":           s.WaitCount,
		"wait_duration_ms":     s.WaitDuration.Milliseconds(),
	}
}

// GetDBPoolStats retrieves pool statistics from a sql.DB instance.
func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}

	stats := db.Stats()
	return DBPoolStats{
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		MaxOpenConnections: stats.MaxOpenConnections,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// AssessDBPoolHealth evaluates pool utilization.
func AssessDBPoolHealth(stats DBPoolStats) PoolHealthStatus {
	if stats.MaxOpenConnections == 0 {
		return PoolHealthy
	}

	utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)
	switch {
	case utilization >= 0.95:
		return PoolUnhealthy
	case utilization >= 0.80 || stats.WaitDuration > 5*time.Second:
		return PoolDegraded
	default:
		return PoolHealthy
	}
}

// SyncCounters accumulates reconciliation outcomes since process start.
type SyncCounters struct {
	Runs         atomic.Int64
	Pushed       atomic.Int64
	Pulled       atomic.Int64
	DeletedLocal atomic.Int64
	ItemFailures atomic.Int64
	Reconnects   atomic.Int64
	UserErrors   atomic.Int64
}

// Snapshot returns the current counter values.
func (c *SyncCounters) Snapshot() map[string]int64 {
	return map[string]int64{
		"runs":          c.Runs.Load(),
		"pushed":        c.Pushed.Load(),
		"pulled":        c.Pulled.Load(),
		"deleted_local": c.DeletedLocal.Load(),
		"item_failures": c.ItemFailures.Load(),
		"reconnects":    c.Reconnects.Load(),
		"user_errors":   c.UserErrors.Load(),
	}
}
