package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastDigestedSeq returns the highest message sequence covered by any digest
// of the conversation, or 0.
func (s *Store) LastDigestedSeq(ctx context.Context, conversationID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(range_end_seq) FROM conversation_digests WHERE conversation_id = ?`, conversationID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("querying last digested seq: %w", err)
	}
	return seq.Int64, nil
}

// InsertDigests stores a set of digests covering one message range. Digests
// whose (conversation, type, range start) already exists are skipped; the
// returned slice holds only the rows actually inserted.
func (s *Store) InsertDigests(ctx context.Context, digests []Digest) ([]Digest, error) {
	var inserted []Digest
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range digests {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_digests (`+digestColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(conversation_id, digest_type, range_start_seq) DO NOTHING`, digestArgs(d)...)
			if err != nil {
				return fmt.Errorf("inserting digest %s: %w", d.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 1 {
				inserted = append(inserted, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *Store) GetDigest(ctx context.Context, id string) (Digest, error) {
	d, err := scanDigest(s.db.QueryRowContext(ctx, `SELECT `+digestColumns+` FROM conversation_digests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Digest{}, ErrNotFound
	}
	return d, err
}

// ListUnprocessedDigests returns the oldest digests without a completed
// extraction: no log row, a failed row, or a processing row started before
// staleBefore. A zero staleBefore never matches processing rows.
func (s *Store) ListUnprocessedDigests(ctx context.Context, limit int, staleBefore time.Time) ([]Digest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("d", digestColumns)+`
		FROM conversation_digests d
		LEFT JOIN extraction_log l ON l.source_type = 'digest' AND l.source_id = d.id
		WHERE l.source_id IS NULL
		   OR l.status = 'failed'
		   OR (l.status = 'processing' AND l.started_at < ?)
		ORDER BY d.created_at ASC, d.id ASC
		LIMIT ?`, staleCutoff(staleBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed digests: %w", err)
	}
	defer rows.Close()

	var out []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListDigests returns the newest digests of a conversation.
func (s *Store) ListDigests(ctx context.Context, conversationID string, limit int) ([]Digest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+digestColumns+` FROM conversation_digests
		WHERE conversation_id = ? ORDER BY range_end_seq DESC, digest_type ASC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying digests: %w", err)
	}
	defer rows.Close()

	var out []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func staleCutoff(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}
