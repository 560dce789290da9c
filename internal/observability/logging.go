// Package observability provides the worker's logging and metrics sinks:
// one rotated log file per worker identifier, and in-process counters for
// the claim/dispatch/archive pipeline.
package observability

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a zap.Logger that writes JSON lines to both stdout and a
// daily-rotated, 7-day-retained file named after the worker identifier, per
// spec §6 ("one file per worker identifier... rotated daily with 7 days
// retained"). debug raises the level to Debug, which is also the signal
// internal/dispatch and internal/store use to decide whether to log SQL
// text and payload bodies.
func NewLogger(logDir, identity string, debug bool) (*zap.Logger, *lumberjack.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	fileSink := &lumberjack.Logger{
		Filename: filepath.Join(logDir, identity+".log"),
		MaxAge:   7, // days
		Compress: true,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(encoder, zapcore.AddSync(fileSink), level),
	)

	logger := zap.New(core, zap.Fields(zap.String("worker", identity)))
	return logger, fileSink, nil
}

// StartDailyRotation forces fileSink to roll over once every 24h so the
// "rotated daily" half of spec §6 holds; lumberjack on its own only rolls
// a file once it reaches MaxSize (100 MB when unset), so a quiet worker's
// file would otherwise span many days. MaxAge still governs retention of
// the rolled files. Returns a stop func.
func StartDailyRotation(ctx context.Context, fileSink *lumberjack.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fileSink.Rotate()
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
