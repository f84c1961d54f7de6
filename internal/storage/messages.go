package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveMessage stores m and returns it with its sequence number. Saving a
// message id twice is a no-op that returns the stored row.
func (s *Store) SaveMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, conversation_id, project_id, author_id, author_name, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, messageArgs(m)...); err != nil {
		return ChatMessage{}, fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return s.GetMessage(ctx, m.ID)
}

func (s *Store) GetMessage(ctx context.Context, id string) (ChatMessage, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ChatMessage{}, ErrNotFound
	}
	return m, err
}

// MessagesAfter returns up to limit messages of a conversation with seq
// greater than afterSeq, oldest first.
func (s *Store) MessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY seq ASC LIMIT ?`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingConversation is a conversation with messages not yet covered by a digest.
type PendingConversation struct {
	ConversationID string
	Pending        int
}

// ConversationsWithPending lists conversations having at least minPending
// messages after their last digested sequence.
func (s *Store) ConversationsWithPending(ctx context.Context, minPending int) ([]PendingConversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id, COUNT(*) AS pending
		FROM chat_messages m
		LEFT JOIN (
			SELECT conversation_id, MAX(range_end_seq) AS last_seq
			FROM conversation_digests GROUP BY conversation_id
		) d ON d.conversation_id = m.conversation_id
		WHERE m.seq > COALESCE(d.last_seq, 0)
		GROUP BY m.conversation_id
		HAVING COUNT(*) >= ?
		ORDER BY m.conversation_id`, minPending)
	if err != nil {
		return nil, fmt.Errorf("querying pending conversations: %w", err)
	}
	defer rows.Close()

	var out []PendingConversation
	for rows.Next() {
		var p PendingConversation
		if err := rows.Scan(&p.ConversationID, &p.Pending); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
