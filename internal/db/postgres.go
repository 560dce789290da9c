// Package db owns the Postgres connection pool this worker uses to reach
// the mail schema. It knows nothing about queues or messages — just how to
// open, pool, and classify failures on the connection.
package db

import (
	"context"
	"database/sql"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresDB wraps *sql.DB with the pool sizing and health accounting a
// long-running worker needs, as opposed to a request-serving API.
type PostgresDB struct {
	*sql.DB
}

// PoolConfig controls connection pool sizing. Unlike an HTTP API process,
// this worker holds at most one claim batch in flight at a time, so the
// pool only needs to cover the batch's concurrent provider calls plus a
// little headroom for the periodic health check.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig scales with CPU count the way the teacher's optimized
// pool did, but capped low: a worker process drives at most
// min(32, 5*NumCPU) concurrent dispatches (spec's task-concurrency bound),
// so there is never a reason to hold more than a couple of connections per
// core.
func DefaultPoolConfig() PoolConfig {
	n := runtime.NumCPU()
	return PoolConfig{
		MaxOpenConns:    n*2 + 2,
		MaxIdleConns:    n + 1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
}

// Open connects to Postgres and verifies the connection with a bounded ping.
func Open(ctx context.Context, dsn string, cfg PoolConfig) (*PostgresDB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &PostgresDB{DB: sqlDB}, nil
}

// Stats reports the pool's current utilization, used by the worker's
// periodic health tick.
type Stats struct {
	OpenConnections int
	InUse           int
	Idle            int
	WaitCount       int64
	WaitDuration    time.Duration
}

func (db *PostgresDB) Stats() Stats {
	s := db.DB.Stats()
	return Stats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
	}
}

// IsHealthy is a coarse judgement call used only for the periodic log line;
// it is not a circuit breaker.
func (s Stats) IsHealthy() bool {
	return s.WaitDuration < 100*time.Millisecond
}

// IsRecoverable reports whether err represents a transient condition — a
// reset connection, a driver-level operational error, or a context
// deadline — that the worker loop should handle by reconnecting and
// retrying the next batch, per spec §7's "Transient DB error" / "DB
// timeout" rows. A permanent error (bad query, constraint violation) is
// never recoverable by reconnecting and is returned as-is.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			return true
		case "53": // insufficient resources
			return true
		case "57": // operator intervention (admin shutdown, crash shutdown)
			return true
		}
		return false
	}
	// net.OpError and similar unwrap to a plain "connection reset by peer" /
	// "broken pipe" string on most platforms without a typed sentinel.
	msg := err.Error()
	for _, needle := range []string{"connection reset", "broken pipe", "connection refused", "i/o timeout", "EOF"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
