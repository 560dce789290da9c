package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const deleteFromQueue = `DELETE FROM mail."MailQueue" WHERE "ID" = $1`

const insertArchive = `
INSERT INTO mail.%q
("DestinationAddress","SourceAddress","CC_Address","BCC_Address","Subject","Body",processed_by,"DateSent")
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`

// Archive implements C4: delete the row from MailQueue and insert it into
// MailArchive (success) or FailedMail (failure), in one transaction, with
// the Attachment bytes dropped per spec invariant 5. dryRun rolls back
// instead of committing.
func (s *Store) Archive(ctx context.Context, m Message, success, dryRun bool) error {
	table := "FailedMail"
	if success {
		table = "MailArchive"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if s.debug {
		s.logger.Debug("archive: delete sql", zap.String("sql", deleteFromQueue), zap.Int64("id", m.ID))
	}
	deleteCtx, cancelDelete := withTimeout(ctx)
	_, err = tx.ExecContext(deleteCtx, deleteFromQueue, m.ID)
	cancelDelete()
	if err != nil {
		return fmt.Errorf("archive: delete from queue id=%d: %w", m.ID, err)
	}

	insert := fmt.Sprintf(insertArchive, table)
	if s.debug {
		s.logger.Debug("archive: insert sql", zap.String("sql", insert), zap.Int64("id", m.ID),
			zap.String("destination", m.DestinationAddress), zap.String("subject", m.Subject), zap.String("body", m.Body))
	}
	insertCtx, cancelInsert := withTimeout(ctx)
	_, err = tx.ExecContext(insertCtx, insert,
		m.DestinationAddress, m.SourceAddress, m.CCAddress, m.BCCAddress,
		m.Subject, m.Body, m.ProcessedBy)
	cancelInsert()
	if err != nil {
		return fmt.Errorf("archive: insert into %s id=%d: %w", table, m.ID, err)
	}

	if dryRun {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit id=%d: %w", m.ID, err)
	}
	committed = true
	return nil
}
