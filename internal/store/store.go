// Package store implements the Queue Store Adapter, Claim Protocol, and
// Archiver (spec components C1, C2, C4) against the mail schema's three
// relations: MailQueue, MailArchive, FailedMail.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailworker/internal/db"
)

// QueryConfig holds the constants spec §4.1 says are interpolated into the
// statement templates once, at startup — never per row.
type QueryConfig struct {
	MaxAttempts int
	MaxAge      time.Duration
	FetchLimit  int
}

// statementTimeout bounds every individual DB call per spec §4.1/§5/§7
// ("Statement timeout (default 10 s per DB call): treated as a
// connection-level recoverable error"). A call that exceeds it surfaces
// context.DeadlineExceeded, which db.IsRecoverable already classifies as
// transient.
const statementTimeout = 10 * time.Second

// withTimeout derives a per-call deadline from ctx without extending
// whatever deadline the caller (or process lifetime context) already set.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, statementTimeout)
}

// Store is the Queue Store Adapter (C1): parameterized statements against
// the queue/archive/failed tables, with fixed-at-construction statement
// text and per-call bound parameters for everything else.
type Store struct {
	db     *db.PostgresDB
	logger *zap.Logger
	cfg    QueryConfig
	debug  bool

	selectByMode map[Mode]string
}

// New builds the Store and pre-renders the three mode-constrained candidate
// queries (all/report/notification) with MAX_AGE/MAX_ATTEMPTS/FETCH_LIMIT
// baked in as literal text, per spec §4.1's "never per-row" rule. debug
// additionally logs SQL text and bound parameters for every call, per
// spec §6's -d/--debug flag.
func New(database *db.PostgresDB, logger *zap.Logger, cfg QueryConfig, debug bool) *Store {
	s := &Store{db: database, logger: logger, cfg: cfg, debug: debug}
	s.selectByMode = map[Mode]string{
		ModeAll:          s.renderSelect(`TRUE`),
		ModeReport:       s.renderSelect(`"Attachment" IS NOT NULL`),
		ModeNotification: s.renderSelect(`"Attachment" IS NULL`),
	}
	return s
}

// renderSelect bakes the advisory-lock predicate into the WHERE clause per
// spec §4.2 step 1 ("an advisory lock on the row's ID can be acquired
// non-blockingly" is a candidate-selection criterion, not just a
// post-selection check), so rows another worker already holds the
// transaction advisory lock on never surface as candidates in the first
// place. claim.go still performs a second, defensive acquisition per
// candidate (spec's step 2) before the CAS.
func (s *Store) renderSelect(modeConstraint string) string {
	return fmt.Sprintf(`
SELECT "ID", processed_by
FROM mail."MailQueue"
WHERE "deliveryMethod" IS NULL
  AND pg_try_advisory_xact_lock("ID")
  AND (
      processed_by IS NULL
      OR processed_by = $1
      OR (processed_by <> $1 AND created_at < NOW() - interval '%d minutes')
  )
  AND (%s)
  AND attempts <= %d
ORDER BY "ID" ASC
LIMIT %d
FOR UPDATE SKIP LOCKED`,
		int(s.cfg.MaxAge.Minutes()), modeConstraint, s.cfg.MaxAttempts, s.cfg.FetchLimit)
}

// DB exposes the underlying connection for health checks (C5's periodic tick).
func (s *Store) DB() *db.PostgresDB { return s.db }
