package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mailworker/internal/config"
	"mailworker/internal/db"
	"mailworker/internal/dispatch"
	"mailworker/internal/observability"
	"mailworker/internal/provider/email"
	"mailworker/internal/provider/sms"
	"mailworker/internal/singleton"
	"mailworker/internal/store"
	"mailworker/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.NewFlagSet("mailworker")
	cfg, err := config.Load(os.Args[1:], flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	identity := cfg.Identity()

	logger, fileSink, err := observability.NewLogger(cfg.LogDir, identity, cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		return 1
	}
	defer logger.Sync()
	defer fileSink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopRotation := observability.StartDailyRotation(ctx, fileSink)
	defer stopRotation()

	if running := singleton.Check(int32(os.Getpid()), "mailworker", cfg.Hostname, identity, argvIdentity); running {
		logger.Error("another worker with the same identity is already running", zap.String("identity", identity))
		return 1
	}

	openDB := func(ctx context.Context) (*store.Store, error) {
		pgdb, err := db.Open(ctx, cfg.DSN(), db.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		return store.New(pgdb, logger, store.QueryConfig{
			MaxAttempts: cfg.MaxAttempts,
			MaxAge:      cfg.MaxAge,
			FetchLimit:  cfg.FetchLimit,
		}, cfg.Debug), nil
	}

	st, err := openDB(ctx)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer st.DB().Close()

	smsClient := sms.New(cfg.SMSBaseURL, cfg.SMSAccountSID, cfg.SMSAPIKeySID, cfg.SMSAPIKeySecret)
	emailClient := email.New(cfg.EmailEndpoint, cfg.EmailAPIKey)
	dispatcher := dispatch.New(smsClient, emailClient, cfg.SMSFromNumber, cfg.EmailFromAddress, logger, cfg.Testing, cfg.NoNotify, cfg.Debug)

	metrics := observability.NewMetrics()

	workerMode, err := toStoreMode(cfg.Mode)
	if err != nil {
		logger.Fatal("invalid mode", zap.Error(err))
	}

	w := worker.New(st, dispatcher, openDB, worker.Config{
		Mode:        workerMode,
		Self:        identity,
		Loop:        cfg.Loop,
		Testing:     cfg.Testing,
		Interval:    cfg.Interval,
		MaxAttempts: cfg.MaxAttempts,
		Overrides:   dispatch.Overrides{Email: cfg.EmailOverride, Phone: cfg.PhoneOverride},
	}, logger, metrics)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, draining current batch")
		w.Shutdown()
	}()

	logger.Info("worker starting", zap.String("identity", identity), zap.String("mode", string(workerMode)), zap.Bool("loop", cfg.Loop))

	if err := w.Run(ctx); err != nil {
		logger.Error("worker exited with fatal error", zap.Error(err))
		return 1
	}
	logger.Info("worker exited cleanly")
	return 0
}

func toStoreMode(m config.Mode) (store.Mode, error) {
	switch m {
	case config.ModeAll:
		return store.ModeAll, nil
	case config.ModeReport:
		return store.ModeReport, nil
	case config.ModeNotification:
		return store.ModeNotification, nil
	default:
		return "", fmt.Errorf("unknown mode %q", m)
	}
}

// argvIdentity parses a peer process's argv using the same flag
// definitions this program registers, so internal/singleton can recover
// the peer's (mode, job-id) pair without duplicating flag parsing logic.
func argvIdentity(argv []string) (mode, jobID string) {
	peerFlags := config.NewFlagSet("mailworker")
	if err := peerFlags.FlagSet.Parse(argv); err != nil {
		return "", ""
	}
	m, err := peerFlags.Mode()
	if err != nil {
		return "", ""
	}
	return string(m), peerFlags.JobID()
}
