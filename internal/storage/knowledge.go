package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// InsertKnowledgeItem stores a single item. Confidence is clamped to [0,1].
func (s *Store) InsertKnowledgeItem(ctx context.Context, it KnowledgeItem) error {
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	it.Confidence = brain.ClampConfidence(it.Confidence)
	_, err := s.db.ExecContext(ctx, `INSERT INTO knowledge_items (`+knowledgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, knowledgeArgs(it)...)
	if err != nil {
		return fmt.Errorf("inserting knowledge item %s: %w", it.ID, err)
	}
	return nil
}

func (s *Store) GetKnowledgeItem(ctx context.Context, id string) (KnowledgeItem, error) {
	it, err := scanKnowledgeItem(s.db.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeItem{}, ErrNotFound
	}
	return it, err
}

// GetKnowledgeItems returns the items with the given ids in the order of ids.
// Unknown ids are skipped.
func (s *Store) GetKnowledgeItems(ctx context.Context, ids []string) ([]KnowledgeItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := s.queryKnowledge(ctx, `WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]KnowledgeItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]KnowledgeItem, 0, len(items))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// ListKnowledgeBySource returns items derived from one source.
func (s *Store) ListKnowledgeBySource(ctx context.Context, sourceType brain.SourceType, sourceID string) ([]KnowledgeItem, error) {
	return s.queryKnowledge(ctx, `WHERE source_type = ? AND source_id = ? ORDER BY created_at ASC, id ASC`, string(sourceType), sourceID)
}

// IncrementUsage bumps usage_count and sets last_used_at for every id.
func (s *Store) IncrementUsage(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{formatTime(at)}, stringArgs(ids)...)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_items SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	return nil
}

// DeactivateKnowledgeItem soft-deletes an item so it is no longer retrievable.
func (s *Store) DeactivateKnowledgeItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_items SET is_active = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
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

// ListItemsNeedingEmbedding returns active items with no embedding, or with
// an embedding produced by a model other than model, oldest first.
func (s *Store) ListItemsNeedingEmbedding(ctx context.Context, model string, limit int) ([]KnowledgeItem, error) {
	return s.queryKnowledge(ctx, `
		WHERE is_active = 1 AND (embedding IS NULL OR COALESCE(embedding_model, '') != ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`, model, limit)
}

func (s *Store) UpdateEmbedding(ctx context.Context, id string, vec []float32, model string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_items SET embedding = ?, embedding_model = ?, updated_at = ? WHERE id = ?`,
		EncodeVector(vec), nullString(model), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
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

// ListEmbeddedItems returns every active item that has an embedding.
func (s *Store) ListEmbeddedItems(ctx context.Context) ([]KnowledgeItem, error) {
	return s.queryKnowledge(ctx, `WHERE is_active = 1 AND embedding IS NOT NULL ORDER BY created_at ASC, id ASC`)
}

// ScanVisibleEmbeddings calls fn for every item visible under v. The vector
// passed to fn is reused between calls and must not be retained.
func (s *Store) ScanVisibleEmbeddings(ctx context.Context, v Visibility, fn func(id string, vec []float32) error) error {
	where, args := v.clause()
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM knowledge_items WHERE `+where, args...)
	if err != nil {
		return fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		buf, err = DecodeVectorInto(buf, blob)
		if err != nil {
			return fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		if err := fn(id, buf); err != nil {
			return err
		}
	}
	return rows.Err()
}

// KnowledgeStats is a per-user breakdown of stored knowledge.
type KnowledgeStats struct {
	Total   int
	ByScope map[brain.Scope]int
	ByType  map[brain.KnowledgeType]int
}

// KnowledgeStats counts the active items owned by userID.
func (s *Store) KnowledgeStats(ctx context.Context, userID string) (KnowledgeStats, error) {
	stats := KnowledgeStats{
		ByScope: make(map[brain.Scope]int),
		ByType:  make(map[brain.KnowledgeType]int),
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, knowledge_type, COUNT(*) FROM knowledge_items
		WHERE user_id = ? AND is_active = 1
		GROUP BY scope, knowledge_type`, userID)
	if err != nil {
		return stats, fmt.Errorf("querying knowledge stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scope brain.Scope
		var typ brain.KnowledgeType
		var n int
		if err := rows.Scan(&scope, &typ, &n); err != nil {
			return stats, err
		}
		stats.ByScope[scope] += n
		stats.ByType[typ] += n
		stats.Total += n
	}
	return stats, rows.Err()
}

func (s *Store) queryKnowledge(ctx context.Context, where string, args ...any) ([]KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_items `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge items: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeItem
	for rows.Next() {
		it, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Visibility is the retrieval filter. Personal items are visible only to
// their owner; team items may be narrowed to a project (items without a
// project stay visible); role items may be narrowed to a role tag.
type Visibility struct {
	UserID    string
	Scopes    []brain.Scope // empty means every scope
	ProjectID string
	RoleTag   string
	Now       time.Time
}

func (v Visibility) includes(scope brain.Scope) bool {
	if len(v.Scopes) == 0 {
		return true
	}
	for _, s := range v.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (v Visibility) now() time.Time {
	if v.Now.IsZero() {
		return time.Now()
	}
	return v.Now
}

// Allows reports whether it is retrievable under v. It is the in-memory
// twin of clause and must stay in sync with it.
func (v Visibility) Allows(it KnowledgeItem) bool {
	if !it.IsActive || len(it.Embedding) == 0 {
		return false
	}
	if it.ExpiresAt != nil && !it.ExpiresAt.After(v.now()) {
		return false
	}
	if !v.includes(it.Scope) {
		return false
	}
	switch it.Scope {
	case brain.ScopePersonal:
		return v.UserID != "" && it.UserID == v.UserID
	case brain.ScopeTeam:
		return v.ProjectID == "" || it.ProjectID == "" || it.ProjectID == v.ProjectID
	case brain.ScopeRole:
		return v.RoleTag == "" || it.RoleTag == v.RoleTag
	case brain.ScopeGlobal:
		return true
	}
	return false
}

func (v Visibility) clause() (string, []any) {
	args := []any{formatTime(v.now())}
	var ors []string

	if v.includes(brain.ScopePersonal) && v.UserID != "" {
		ors = append(ors, `(scope = 'personal' AND user_id = ?)`)
		args = append(args, v.UserID)
	}
	if v.includes(brain.ScopeTeam) {
		if v.ProjectID != "" {
			ors = append(ors, `(scope = 'team' AND (project_id IS NULL OR project_id = ?))`)
			args = append(args, v.ProjectID)
		} else {
			ors = append(ors, `scope = 'team'`)
		}
	}
	if v.includes(brain.ScopeRole) {
		if v.RoleTag != "" {
			ors = append(ors, `(scope = 'role' AND role_tag = ?)`)
			args = append(args, v.RoleTag)
		} else {
			ors = append(ors, `scope = 'role'`)
		}
	}
	if v.includes(brain.ScopeGlobal) {
		ors = append(ors, `scope = 'global'`)
	}

	scopeClause := "0"
	if len(ors) > 0 {
		scopeClause = strings.Join(ors, " OR ")
	}
	return `is_active = 1 AND embedding IS NOT NULL AND length(embedding) > 0
		AND (expires_at IS NULL OR expires_at > ?)
		AND (` + scopeClause + `)`, args
}
