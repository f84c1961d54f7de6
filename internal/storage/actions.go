package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// CreateActionBatch inserts the pending actions extracted from one source
// message. If the message already has a batch, the existing actions are
// returned with created=false and nothing is written.
func (s *Store) CreateActionBatch(ctx context.Context, sourceMessageID string, actions []Action) ([]Action, bool, error) {
	var out []Action
	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := queryActions(ctx, tx, `WHERE source_message_id = ? ORDER BY ordinal ASC`, sourceMessageID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			out = existing
			return nil
		}

		now := time.Now().UTC()
		for i, a := range actions {
			a.SourceMessageID = sourceMessageID
			a.Ordinal = i
			a.Status = brain.StatusPending
			a.ExecutedData = nil
			a.Confidence = brain.ClampConfidence(a.Confidence)
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO brain_actions (`+actionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, actionArgs(a)...); err != nil {
				return fmt.Errorf("inserting action %s: %w", a.ID, err)
			}
			out = append(out, a)
		}
		created = len(out) > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *Store) GetAction(ctx context.Context, id string) (Action, error) {
	return getAction(ctx, s.db, id)
}

// ListActions returns actions of a conversation, optionally filtered by
// status, newest first.
func (s *Store) ListActions(ctx context.Context, conversationID string, status brain.ActionStatus, limit int) ([]Action, error) {
	if status == "" {
		return queryActions(ctx, s.db, `WHERE conversation_id = ? ORDER BY created_at DESC, ordinal ASC LIMIT ?`, conversationID, limit)
	}
	return queryActions(ctx, s.db, `WHERE conversation_id = ? AND status = ? ORDER BY created_at DESC, ordinal ASC LIMIT ?`,
		conversationID, string(status), limit)
}

func (s *Store) ListActionsByMessage(ctx context.Context, sourceMessageID string) ([]Action, error) {
	return queryActions(ctx, s.db, `WHERE source_message_id = ? ORDER BY ordinal ASC`, sourceMessageID)
}

// DecideAction moves a pending action to confirmed or rejected. changed is
// false when the action was not pending; the current row is returned either way.
func (s *Store) DecideAction(ctx context.Context, id string, to brain.ActionStatus, userID string) (Action, bool, error) {
	if to != brain.StatusConfirmed && to != brain.StatusRejected {
		return Action{}, false, fmt.Errorf("invalid decision status %q", to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE brain_actions SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(to), nullString(userID), formatTime(time.Now()), id)
	if err != nil {
		return Action{}, false, fmt.Errorf("updating action %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Action{}, false, err
	}
	a, err := s.GetAction(ctx, id)
	if err != nil {
		return Action{}, false, err
	}
	return a, n == 1, nil
}

// EntityBuilder produces the entity and the executed_data for a confirmed action.
type EntityBuilder func(a Action) (Entity, json.RawMessage, error)

// ExecuteAction transitions a confirmed action to executed and writes the
// entity in the same transaction. The transition is a conditional update on
// status='confirmed': when it affects no row, nothing is written and
// executed is false. The returned action reflects the stored state.
func (s *Store) ExecuteAction(ctx context.Context, id string, build EntityBuilder) (Action, bool, error) {
	var result Action
	executed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := getAction(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != brain.StatusConfirmed {
			result = a
			return nil
		}

		entity, executedData, err := build(a)
		if err != nil {
			return fmt.Errorf("building entity for action %s: %w", id, err)
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE brain_actions SET status = 'executed', executed_data = ?, executed_at = ?
			WHERE id = ? AND status = 'confirmed'`,
			string(executedData), formatTime(now), id)
		if err != nil {
			return fmt.Errorf("marking action %s executed: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			result = a
			return nil
		}

		entity.ActionID = id
		if entity.CreatedAt.IsZero() {
			entity.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO created_entities (`+entityColumns+`) VALUES (?, ?, ?, ?, ?)`,
			entityArgs(entity)...); err != nil {
			return fmt.Errorf("inserting entity for action %s: %w", id, err)
		}

		a.Status = brain.StatusExecuted
		a.ExecutedData = executedData
		a.ExecutedAt = &now
		result = a
		executed = true
		return nil
	})
	if err != nil {
		return Action{}, false, err
	}
	return result, executed, nil
}

func (s *Store) GetEntityByAction(ctx context.Context, actionID string) (Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM created_entities WHERE action_id = ?`, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	return e, err
}

// CountEntities returns how many entities were handed off for an action.
func (s *Store) CountEntities(ctx context.Context, actionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM created_entities WHERE action_id = ?`, actionID).Scan(&n)
	return n, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAction(ctx context.Context, q queryer, id string) (Action, error) {
	a, err := scanAction(q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM brain_actions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Action{}, ErrNotFound
	}
	return a, err
}

func queryActions(ctx context.Context, q queryer, where string, args ...any) ([]Action, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+actionColumns+` FROM brain_actions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
