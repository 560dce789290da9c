package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// ClaimStats tallies what happened during one ClaimBatch call, for the
// Worker Loop's batch log line and metrics.
type ClaimStats struct {
	Candidates    int
	Claimed       int
	SkippedLocked int // lost the second advisory-lock race (step 2)
	SkippedStolen int // CAS affected zero rows (step 3)
}

const casUpdate = `
UPDATE mail."MailQueue"
SET processed_by = $1, attempts = attempts + 1
WHERE "ID" = $2 AND processed_by IS NOT DISTINCT FROM $3
RETURNING "ID", "DestinationAddress", "SourceAddress", "CC_Address", "BCC_Address",
          "Subject", "Body", "Attachment", attempts, processed_by, created_at`

const advisoryLock = `SELECT pg_try_advisory_xact_lock($1)`

// ClaimBatch implements the Claim Protocol (C2) exactly as spec §4.2
// describes: one transaction selects up to FETCH_LIMIT candidate rows with
// FOR UPDATE SKIP LOCKED, then for each candidate a second, defensive
// advisory-lock acquisition guards the CAS update that actually assigns
// ownership. The whole sequence is one transaction — the row locks taken
// by the candidate SELECT must still be held when the CAS runs, or a peer
// could claim the same row in between — so "commit after each successful
// CAS" (spec §4.2 step 4) means this transaction commits once, immediately
// after the last CAS and strictly before any provider is called.
//
// dryRun rolls the whole transaction back instead of committing, per
// spec's testing mode: claim attempts happen, attempts/ownership are
// computed, but nothing is persisted.
func (s *Store) ClaimBatch(ctx context.Context, self string, mode Mode, dryRun bool) ([]Message, ClaimStats, error) {
	var stats ClaimStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stats, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	type candidate struct {
		id          int64
		processedBy sql.NullString
	}

	if s.debug {
		s.logger.Debug("claim: candidate select sql", zap.String("sql", s.selectByMode[mode]), zap.String("self", self))
	}

	selectCtx, cancelSelect := withTimeout(ctx)
	defer cancelSelect()
	rows, err := tx.QueryContext(selectCtx, s.selectByMode[mode], self)
	if err != nil {
		return nil, stats, fmt.Errorf("claim: select candidates: %w", err)
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.processedBy); err != nil {
			rows.Close()
			return nil, stats, fmt.Errorf("claim: scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, stats, fmt.Errorf("claim: iterate candidates: %w", err)
	}
	rows.Close()
	stats.Candidates = len(candidates)

	claimed := make([]Message, 0, len(candidates))
	for _, c := range candidates {
		lockCtx, cancelLock := withTimeout(ctx)
		var gotLock bool
		err := tx.QueryRowContext(lockCtx, advisoryLock, c.id).Scan(&gotLock)
		cancelLock()
		if err != nil {
			return nil, stats, fmt.Errorf("claim: advisory lock id=%d: %w", c.id, err)
		}
		if !gotLock {
			stats.SkippedLocked++
			s.logger.Debug("claim: advisory lock unavailable, skipping", zap.Int64("id", c.id))
			continue
		}

		var priorOwner interface{}
		if c.processedBy.Valid {
			priorOwner = c.processedBy.String
		}

		if s.debug {
			s.logger.Debug("claim: cas update sql", zap.String("sql", casUpdate),
				zap.String("self", self), zap.Int64("id", c.id), zap.Any("prior_owner", priorOwner))
		}

		casCtx, cancelCAS := withTimeout(ctx)
		var m Message
		err = tx.QueryRowContext(casCtx, casUpdate, self, c.id, priorOwner).Scan(
			&m.ID, &m.DestinationAddress, &m.SourceAddress, &m.CCAddress, &m.BCCAddress,
			&m.Subject, &m.Body, &m.Attachment, &m.Attempts, &m.ProcessedBy, &m.CreatedAt)
		cancelCAS()
		if err == sql.ErrNoRows {
			// Stolen between the candidate SELECT and this CAS.
			stats.SkippedStolen++
			s.logger.Debug("claim: row stolen before CAS, skipping", zap.Int64("id", c.id))
			continue
		}
		if err != nil {
			return nil, stats, fmt.Errorf("claim: cas update id=%d: %w", c.id, err)
		}
		claimed = append(claimed, m)
		stats.Claimed++
	}

	if dryRun {
		return claimed, stats, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, stats, fmt.Errorf("claim: commit: %w", err)
	}
	committed = true
	return claimed, stats, nil
}
