package storage

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) InsertQueryLog(ctx context.Context, q QueryLog) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	args, err := queryLogArgs(q)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO rag_query_log (`+queryLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
		return fmt.Errorf("inserting query log: %w", err)
	}
	return nil
}

// SetQueryFeedback records whether the results of a logged query helped.
func (s *Store) SetQueryFeedback(ctx context.Context, id string, helpful bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rag_query_log SET helpful = ? WHERE id = ?`, boolInt(helpful), id)
	if err != nil {
		return err
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

// RecentQueries returns the newest query log rows for userID.
func (s *Store) RecentQueries(ctx context.Context, userID string, limit int) ([]QueryLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+queryLogColumns+` FROM rag_query_log
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying query log: %w", err)
	}
	defer rows.Close()

	var out []QueryLog
	for rows.Next() {
		q, err := scanQueryLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
