package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// ClaimExtraction marks a source as processing. It succeeds when no log row
// exists, when the previous run failed, or when a processing row started
// before staleBefore (a crashed run). A zero staleBefore never reclaims
// processing rows. When the claim is refused the existing row is returned.
func (s *Store) ClaimExtraction(ctx context.Context, st brain.SourceType, sourceID string, staleBefore time.Time) (bool, ExtractionLog, error) {
	var claimed bool
	var existing ExtractionLog
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		l, err := scanExtractionLog(tx.QueryRowContext(ctx,
			`SELECT `+extractionColumns+` FROM extraction_log WHERE source_type = ? AND source_id = ?`, string(st), sourceID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `INSERT INTO extraction_log (`+extractionColumns+`)
				VALUES (?, ?, 'processing', 0, NULL, ?, ?)`, string(st), sourceID, now, now); err != nil {
				return fmt.Errorf("inserting extraction log: %w", err)
			}
			claimed = true
			return nil
		case err != nil:
			return err
		}

		reclaim := l.Status == ExtractionFailed ||
			(l.Status == ExtractionProcessing && !staleBefore.IsZero() && l.StartedAt.Before(staleBefore))
		if !reclaim {
			existing = l
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE extraction_log SET status = 'processing', items_created = 0, error_message = NULL, started_at = ?, updated_at = ?
			WHERE source_type = ? AND source_id = ?`, now, now, string(st), sourceID); err != nil {
			return fmt.Errorf("reclaiming extraction log: %w", err)
		}
		claimed = true
		return nil
	})
	return claimed, existing, err
}

func (s *Store) CompleteExtraction(ctx context.Context, st brain.SourceType, sourceID string, items int) error {
	return s.finishExtraction(ctx, st, sourceID, ExtractionCompleted, items, "")
}

func (s *Store) FailExtraction(ctx context.Context, st brain.SourceType, sourceID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.finishExtraction(ctx, st, sourceID, ExtractionFailed, 0, msg)
}

func (s *Store) finishExtraction(ctx context.Context, st brain.SourceType, sourceID, status string, items int, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_log SET status = ?, items_created = ?, error_message = ?, updated_at = ?
		WHERE source_type = ? AND source_id = ?`,
		status, items, nullString(msg), formatTime(time.Now()), string(st), sourceID)
	if err != nil {
		return fmt.Errorf("updating extraction log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetExtractionLog(ctx context.Context, st brain.SourceType, sourceID string) (ExtractionLog, error) {
	l, err := scanExtractionLog(s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extraction_log WHERE source_type = ? AND source_id = ?`, string(st), sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return ExtractionLog{}, ErrNotFound
	}
	return l, err
}
