// Package worker implements the Worker Loop (C5): it orchestrates the
// Claim Protocol, the Dispatcher, and the Archiver into the batch state
// machine spec.md §4.5 describes.
package worker

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailworker/internal/db"
	"mailworker/internal/dispatch"
	"mailworker/internal/observability"
	"mailworker/internal/store"
)

// taskConcurrency bounds per-batch concurrent provider calls, per spec §5's
// "semaphore-limited to min(32, 5*CPU)".
func taskConcurrency() int {
	n := 5 * runtime.NumCPU()
	if n > 32 {
		return 32
	}
	return n
}

// Config is the subset of the resolved configuration the Worker Loop needs
// directly; everything provider/credential-shaped already lives behind the
// Dispatcher.
type Config struct {
	Mode        store.Mode
	Self        string
	Loop        bool
	Testing     bool
	Interval    time.Duration
	MaxAttempts int
	Overrides   dispatch.Overrides

	HealthInterval time.Duration
}

// Dialer reopens the database connection after a recoverable error, per
// spec §4.1 ("the caller (C5) is responsible for reconnect"). It returns a
// fresh Store built from the new connection.
type Dialer func(ctx context.Context) (*store.Store, error)

// Worker is the process-wide mutable state spec.md's Design Notes call for:
// constructed once in main, with fakes substituted in tests.
type Worker struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	dial       Dialer
	cfg        Config
	logger     *zap.Logger
	metrics    *observability.Metrics

	shutdown atomic.Bool
}

func New(st *store.Store, dispatcher *dispatch.Dispatcher, dial Dialer, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Worker {
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	return &Worker{store: st, dispatcher: dispatcher, dial: dial, cfg: cfg, logger: logger, metrics: metrics}
}

// Shutdown sets the shutdown flag checked at the top of each iteration, per
// spec §4.5/§5. Safe to call from a signal handler goroutine.
func (w *Worker) Shutdown() { w.shutdown.Store(true) }

// Run implements the RUNNING/RECONNECTING/EXITING state machine of §4.5.
// It returns nil on a clean exit (batch drained, not in loop mode, or
// shutdown requested) and a non-nil error only for a fatal condition the
// caller should turn into a non-zero process exit.
func (w *Worker) Run(ctx context.Context) error {
	stopHealth := w.startHealthTicker(ctx)
	defer stopHealth()

	for {
		if w.shutdown.Load() {
			w.logger.Info("shutdown flag set, exiting")
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		batchLogger := w.logger.With(zap.String("batch_id", uuid.NewString()))

		start := time.Now()
		rows, stats, err := w.store.ClaimBatch(ctx, w.cfg.Self, w.cfg.Mode, w.cfg.Testing)
		if err != nil {
			if !db.IsRecoverable(err) {
				return err
			}
			batchLogger.Warn("recoverable claim error, reconnecting", zap.Error(err))
			if err := w.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		batchLogger.Debug("claim batch complete",
			zap.Int("candidates", stats.Candidates), zap.Int("claimed", stats.Claimed),
			zap.Int("skipped_locked", stats.SkippedLocked), zap.Int("skipped_stolen", stats.SkippedStolen))
		w.metrics.Claimed.Add(float64(stats.Claimed))
		w.metrics.SkippedLocked.Add(float64(stats.SkippedLocked))
		w.metrics.SkippedStolen.Add(float64(stats.SkippedStolen))

		if len(rows) > 0 {
			w.dispatchBatch(ctx, batchLogger, rows)
		}
		w.metrics.ObserveBatch(time.Since(start))

		if !w.cfg.Loop && len(rows) == 0 {
			w.logger.Info("queue drained, exiting (not in loop mode)")
			return nil
		}

		if err := w.sleepJittered(ctx); err != nil {
			return nil // context cancelled during sleep: treat as clean shutdown
		}
	}
}

// dispatchBatch fans the claimed rows out to the Dispatcher with bounded
// concurrency, then archives each according to spec §4.4's policy.
func (w *Worker) dispatchBatch(ctx context.Context, logger *zap.Logger, rows []store.Message) {
	sem := make(chan struct{}, taskConcurrency())
	var wg sync.WaitGroup

	for _, row := range rows {
		row := row
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.dispatchOne(ctx, logger, row)
		}()
	}
	wg.Wait()
}

func (w *Worker) dispatchOne(ctx context.Context, logger *zap.Logger, row store.Message) {
	outcome := w.dispatcher.Dispatch(ctx, row, w.cfg.Overrides)

	switch {
	case outcome.Invalid:
		w.metrics.DispatchFailed.Inc()
		w.archive(ctx, logger, row, false)
	case outcome.Sent:
		w.metrics.Dispatched.Inc()
		w.archive(ctx, logger, row, true)
	default:
		w.metrics.DispatchFailed.Inc()
		if row.Attempts >= w.cfg.MaxAttempts {
			w.archive(ctx, logger, row, false)
			return
		}
		logger.Debug("dispatch failed, retrying later", zap.Int64("id", row.ID), zap.Int("attempts", row.Attempts))
	}
}

func (w *Worker) archive(ctx context.Context, logger *zap.Logger, row store.Message, success bool) {
	if err := w.store.Archive(ctx, row, success, w.cfg.Testing); err != nil {
		logger.Error("archive failed, row left in current state", zap.Int64("id", row.ID), zap.Bool("success", success), zap.Error(err))
		return
	}
	if success {
		w.metrics.Archived.Inc()
	} else {
		w.metrics.FailedArchived.Inc()
	}
}

// reconnect rebuilds the Store's DB connection with exponential backoff,
// honoring ctx cancellation (shutdown during reconnect should not spin).
func (w *Worker) reconnect(ctx context.Context) error {
	return retry.Do(
		func() error {
			st, err := w.dial(ctx)
			if err != nil {
				return err
			}
			w.store = st
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0), // unlimited; bounded only by ctx cancellation
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(30*time.Second),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("reconnect attempt failed", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
}

// sleepJittered sleeps interval*U(0.8,1.2) seconds, per spec §4.5, honoring
// ctx cancellation. The shutdown flag does not cut the sleep short; Run
// checks it at the top of the next iteration.
func (w *Worker) sleepJittered(ctx context.Context) error {
	jitter := 0.8 + rand.Float64()*0.4
	d := time.Duration(float64(w.cfg.Interval) * jitter)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) startHealthTicker(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.logHealth()
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (w *Worker) logHealth() {
	stats := w.store.DB().Stats()
	snapshot, err := w.metrics.Snapshot()
	if err != nil {
		w.logger.Warn("metrics snapshot failed", zap.Error(err))
		return
	}
	w.logger.Info("health",
		zap.Int("open_conns", stats.OpenConnections), zap.Int("in_use", stats.InUse), zap.Int("idle", stats.Idle),
		zap.Bool("healthy", stats.IsHealthy()),
		zap.Int("claimed_total", snapshot.Claimed), zap.Int("dispatched_total", snapshot.Dispatched),
		zap.Int("archived_total", snapshot.Archived), zap.Int("failed_archived_total", snapshot.FailedArchived))
}
