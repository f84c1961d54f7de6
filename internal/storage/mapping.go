package storage

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// This file is the only place that knows how struct fields map to
// snake_case columns. Each entity has a column list, a scan function and an
// args function that produce values in column order.

type scanner interface {
	Scan(dest ...any) error
}

// --- chat_messages ---

const messageColumns = `seq, id, conversation_id, project_id, author_id, author_name, text, created_at`

func scanMessage(row scanner) (ChatMessage, error) {
	var m ChatMessage
	var projectID sql.NullString
	var createdAt string
	if err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &projectID, &m.AuthorID, &m.AuthorName, &m.Text, &createdAt); err != nil {
		return ChatMessage{}, err
	}
	m.ProjectID = projectID.String
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return ChatMessage{}, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
	}
	return m, nil
}

// messageArgs omits seq, which SQLite assigns.
func messageArgs(m ChatMessage) []any {
	return []any{m.ID, m.ConversationID, nullString(m.ProjectID), m.AuthorID, m.AuthorName, m.Text, formatTime(m.CreatedAt)}
}

// --- conversation_digests ---

const digestColumns = `id, conversation_id, project_id, digest_type, content, range_start_seq, range_end_seq,
	range_start_id, range_end_id, message_count, model, confidence, created_at, expires_at`

func scanDigest(row scanner) (Digest, error) {
	var d Digest
	var projectID, expiresAt sql.NullString
	var content, createdAt string
	if err := row.Scan(&d.ID, &d.ConversationID, &projectID, &d.Type, &content, &d.RangeStartSeq, &d.RangeEndSeq,
		&d.RangeStartID, &d.RangeEndID, &d.MessageCount, &d.Model, &d.Confidence, &createdAt, &expiresAt); err != nil {
		return Digest{}, err
	}
	d.ProjectID = projectID.String
	d.Content = json.RawMessage(content)
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Digest{}, fmt.Errorf("parsing created_at for digest %s: %w", d.ID, err)
	}
	if d.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return Digest{}, fmt.Errorf("parsing expires_at for digest %s: %w", d.ID, err)
	}
	return d, nil
}

func digestArgs(d Digest) []any {
	return []any{d.ID, d.ConversationID, nullString(d.ProjectID), string(d.Type), string(d.Content), d.RangeStartSeq, d.RangeEndSeq,
		d.RangeStartID, d.RangeEndID, d.MessageCount, d.Model, d.Confidence, formatTime(d.CreatedAt), nullTime(d.ExpiresAt)}
}

// --- brain_actions ---

const actionColumns = `id, source_message_id, ordinal, conversation_id, action_type, status, extracted_data, executed_data,
	confidence, extraction_source, decided_by, created_at, decided_at, executed_at`

func scanAction(row scanner) (Action, error) {
	var a Action
	var extracted string
	var executed, decidedBy, decidedAt, executedAt sql.NullString
	var createdAt string
	if err := row.Scan(&a.ID, &a.SourceMessageID, &a.Ordinal, &a.ConversationID, &a.Type, &a.Status, &extracted, &executed,
		&a.Confidence, &a.Source, &decidedBy, &createdAt, &decidedAt, &executedAt); err != nil {
		return Action{}, err
	}
	a.ExtractedData = json.RawMessage(extracted)
	if executed.Valid {
		a.ExecutedData = json.RawMessage(executed.String)
	}
	a.DecidedBy = decidedBy.String
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Action{}, fmt.Errorf("parsing created_at for action %s: %w", a.ID, err)
	}
	if a.DecidedAt, err = parseNullTime(decidedAt); err != nil {
		return Action{}, fmt.Errorf("parsing decided_at for action %s: %w", a.ID, err)
	}
	if a.ExecutedAt, err = parseNullTime(executedAt); err != nil {
		return Action{}, fmt.Errorf("parsing executed_at for action %s: %w", a.ID, err)
	}
	return a, nil
}

func actionArgs(a Action) []any {
	var executed any
	if a.ExecutedData != nil {
		executed = string(a.ExecutedData)
	}
	return []any{a.ID, a.SourceMessageID, a.Ordinal, a.ConversationID, string(a.Type), string(a.Status), string(a.ExtractedData), executed,
		a.Confidence, a.Source, nullString(a.DecidedBy), formatTime(a.CreatedAt), nullTime(a.DecidedAt), nullTime(a.ExecutedAt)}
}

// --- created_entities ---

const entityColumns = `id, action_id, kind, payload, created_at`

func scanEntity(row scanner) (Entity, error) {
	var e Entity
	var payload, createdAt string
	if err := row.Scan(&e.ID, &e.ActionID, &e.Kind, &payload, &createdAt); err != nil {
		return Entity{}, err
	}
	e.Payload = json.RawMessage(payload)
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return Entity{}, fmt.Errorf("parsing created_at for entity %s: %w", e.ID, err)
	}
	return e, nil
}

func entityArgs(e Entity) []any {
	return []any{e.ID, e.ActionID, e.Kind, string(e.Payload), formatTime(e.CreatedAt)}
}

// --- knowledge_items ---

const knowledgeColumns = `id, user_id, project_id, scope, content, summary, knowledge_type, source_type, source_id, role_tag,
	confidence, relevance_score, usage_count, last_used_at, is_active, expires_at, embedding, embedding_model, created_at, updated_at`

func scanKnowledgeItem(row scanner) (KnowledgeItem, error) {
	var it KnowledgeItem
	var userID, projectID, summary, roleTag, lastUsedAt, expiresAt, embeddingModel sql.NullString
	var blob []byte
	var active int
	var createdAt, updatedAt string
	if err := row.Scan(&it.ID, &userID, &projectID, &it.Scope, &it.Content, &summary, &it.Type, &it.SourceType, &it.SourceID, &roleTag,
		&it.Confidence, &it.RelevanceScore, &it.UsageCount, &lastUsedAt, &active, &expiresAt, &blob, &embeddingModel, &createdAt, &updatedAt); err != nil {
		return KnowledgeItem{}, err
	}
	it.UserID = userID.String
	it.ProjectID = projectID.String
	it.Summary = summary.String
	it.RoleTag = roleTag.String
	it.IsActive = active != 0
	it.EmbeddingModel = embeddingModel.String

	var err error
	if blob != nil {
		if it.Embedding, err = DecodeVector(blob); err != nil {
			return KnowledgeItem{}, fmt.Errorf("decoding embedding for %s: %w", it.ID, err)
		}
	}
	if it.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return KnowledgeItem{}, fmt.Errorf("parsing last_used_at for %s: %w", it.ID, err)
	}
	if it.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return KnowledgeItem{}, fmt.Errorf("parsing expires_at for %s: %w", it.ID, err)
	}
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return KnowledgeItem{}, fmt.Errorf("parsing created_at for %s: %w", it.ID, err)
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return KnowledgeItem{}, fmt.Errorf("parsing updated_at for %s: %w", it.ID, err)
	}
	return it, nil
}

func knowledgeArgs(it KnowledgeItem) []any {
	var blob any
	if it.Embedding != nil {
		blob = EncodeVector(it.Embedding)
	}
	return []any{it.ID, nullString(it.UserID), nullString(it.ProjectID), string(it.Scope), it.Content, nullString(it.Summary),
		string(it.Type), string(it.SourceType), it.SourceID, nullString(it.RoleTag),
		it.Confidence, it.RelevanceScore, it.UsageCount, nullTime(it.LastUsedAt), boolInt(it.IsActive), nullTime(it.ExpiresAt),
		blob, nullString(it.EmbeddingModel), formatTime(it.CreatedAt), formatTime(it.UpdatedAt)}
}

// --- extraction_log ---

const extractionColumns = `source_type, source_id, status, items_created, error_message, started_at, updated_at`

func scanExtractionLog(row scanner) (ExtractionLog, error) {
	var l ExtractionLog
	var errMsg sql.NullString
	var startedAt, updatedAt string
	if err := row.Scan(&l.SourceType, &l.SourceID, &l.Status, &l.ItemsCreated, &errMsg, &startedAt, &updatedAt); err != nil {
		return ExtractionLog{}, err
	}
	l.Error = errMsg.String
	var err error
	if l.StartedAt, err = parseTime(startedAt); err != nil {
		return ExtractionLog{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ExtractionLog{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return l, nil
}

// --- rag_query_log ---

const queryLogColumns = `id, user_id, query_text, query_embedding, scope_filter, project_id, role_tag, threshold,
	retrieved_ids, result_count, top_similarity, helpful, created_at`

func scanQueryLog(row scanner) (QueryLog, error) {
	var q QueryLog
	var blob []byte
	var scopes, ids, createdAt string
	var projectID, roleTag sql.NullString
	var helpful sql.NullInt64
	if err := row.Scan(&q.ID, &q.UserID, &q.QueryText, &blob, &scopes, &projectID, &roleTag, &q.Threshold,
		&ids, &q.ResultCount, &q.TopSimilarity, &helpful, &createdAt); err != nil {
		return QueryLog{}, err
	}
	q.ProjectID = projectID.String
	q.RoleTag = roleTag.String
	var err error
	if blob != nil {
		if q.QueryEmbedding, err = DecodeVector(blob); err != nil {
			return QueryLog{}, fmt.Errorf("decoding query embedding: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(scopes), &q.Scopes); err != nil {
		return QueryLog{}, fmt.Errorf("decoding scope_filter: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &q.RetrievedIDs); err != nil {
		return QueryLog{}, fmt.Errorf("decoding retrieved_ids: %w", err)
	}
	if helpful.Valid {
		h := helpful.Int64 != 0
		q.Helpful = &h
	}
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return QueryLog{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return q, nil
}

func queryLogArgs(q QueryLog) ([]any, error) {
	scopes := q.Scopes
	if scopes == nil {
		scopes = []brain.Scope{}
	}
	scopeJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encoding scope_filter: %w", err)
	}
	ids := q.RetrievedIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encoding retrieved_ids: %w", err)
	}
	var blob any
	if q.QueryEmbedding != nil {
		blob = EncodeVector(q.QueryEmbedding)
	}
	var helpful any
	if q.Helpful != nil {
		helpful = boolInt(*q.Helpful)
	}
	return []any{q.ID, q.UserID, q.QueryText, blob, string(scopeJSON), nullString(q.ProjectID), nullString(q.RoleTag), q.Threshold,
		string(idsJSON), q.ResultCount, q.TopSimilarity, helpful, formatTime(q.CreatedAt)}, nil
}

// --- jobs ---

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func scanJob(row scanner) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	var err error
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

// --- primitives ---

// prefixed qualifies every column in a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Times are stored as RFC3339 UTC strings so that lexical order matches
// chronological order.
func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EncodeVector serializes a float32 slice to little-endian bytes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes little-endian bytes into a new float32 slice.
func DecodeVector(b []byte) ([]float32, error) {
	return DecodeVectorInto(nil, b)
}

// DecodeVectorInto decodes into buf, reusing its capacity. Used by scans that
// touch every row.
func DecodeVectorInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}
