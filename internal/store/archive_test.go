package store

import (
	"context"
	"testing"
)

func TestArchiveMovesRowToMailArchive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := insertQueueRow(t, s, "alice@example.com", nil)
	rows, _, err := s.ClaimBatch(ctx, "worker-a", ModeAll, false)
	if err != nil || len(rows) != 1 {
		t.Fatalf("claim: %v rows=%d", err, len(rows))
	}

	if err := s.Archive(ctx, rows[0], true, false); err != nil {
		t.Fatalf("archive: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM mail."MailQueue" WHERE "ID" = $1`, id).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("row must be removed from MailQueue after archival")
	}
	if err := s.db.QueryRow(`SELECT count(*) FROM mail."MailArchive" WHERE "ID" = $1`, id).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("row must appear exactly once in MailArchive")
	}
}

func TestArchiveFailureGoesToFailedMail(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := insertQueueRow(t, s, "bogus", nil)
	rows, _, err := s.ClaimBatch(ctx, "worker-a", ModeAll, false)
	if err != nil || len(rows) != 1 {
		t.Fatalf("claim: %v rows=%d", err, len(rows))
	}

	if err := s.Archive(ctx, rows[0], false, false); err != nil {
		t.Fatalf("archive: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT count(*) FROM mail."FailedMail" WHERE "ID" = $1`, id).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("row must appear exactly once in FailedMail")
	}
}

func TestArchiveDryRunPurity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertQueueRow(t, s, "alice@example.com", nil)
	rows, _, err := s.ClaimBatch(ctx, "worker-a", ModeAll, false)
	if err != nil || len(rows) != 1 {
		t.Fatalf("claim: %v rows=%d", err, len(rows))
	}

	if err := s.Archive(ctx, rows[0], true, true); err != nil {
		t.Fatalf("archive: %v", err)
	}

	var queueCount, archiveCount int
	if err := s.db.QueryRow(`SELECT count(*) FROM mail."MailQueue"`).Scan(&queueCount); err != nil {
		t.Fatal(err)
	}
	if err := s.db.QueryRow(`SELECT count(*) FROM mail."MailArchive"`).Scan(&archiveCount); err != nil {
		t.Fatal(err)
	}
	if queueCount != 1 || archiveCount != 0 {
		t.Errorf("dry-run archive must roll back: queue=%d archive=%d", queueCount, archiveCount)
	}
}
