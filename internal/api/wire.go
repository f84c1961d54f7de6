package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/rag"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// All struct <-> camelCase wire mapping lives in this file.

type wireItem struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary,omitempty"`
	Type       string    `json:"knowledgeType"`
	Scope      string    `json:"scope"`
	UserID     string    `json:"userId,omitempty"`
	ProjectID  string    `json:"projectId,omitempty"`
	RoleTag    string    `json:"roleTag,omitempty"`
	SourceType string    `json:"sourceType"`
	SourceID   string    `json:"sourceId"`
	Confidence float64   `json:"confidence"`
	UsageCount int       `json:"usageCount"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toWireItem(it storage.KnowledgeItem) wireItem {
	return wireItem{
		ID:         it.ID,
		Content:    it.Content,
		Summary:    it.Summary,
		Type:       string(it.Type),
		Scope:      string(it.Scope),
		UserID:     it.UserID,
		ProjectID:  it.ProjectID,
		RoleTag:    it.RoleTag,
		SourceType: string(it.SourceType),
		SourceID:   it.SourceID,
		Confidence: it.Confidence,
		UsageCount: it.UsageCount,
		IsActive:   it.IsActive,
		CreatedAt:  it.CreatedAt,
	}
}

type wireResult struct {
	wireItem
	Similarity float64 `json:"similarity"`
}

func toWireResults(rs []retrieval.Result) []wireResult {
	out := make([]wireResult, len(rs))
	for i, r := range rs {
		out[i] = wireResult{wireItem: toWireItem(r.Item), Similarity: r.Similarity}
	}
	return out
}

type wireContext struct {
	Text      string   `json:"context"`
	UsedIDs   []string `json:"usedIds"`
	Truncated bool     `json:"truncated"`
}

func toWireContext(p rag.Packed) wireContext {
	ids := make([]string, len(p.Used))
	for i, r := range p.Used {
		ids[i] = r.Item.ID
	}
	return wireContext{Text: p.Text, UsedIDs: ids, Truncated: p.Truncated}
}

type wireAction struct {
	ID              string          `json:"id"`
	SourceMessageID string          `json:"sourceMessageId"`
	ConversationID  string          `json:"conversationId,omitempty"`
	Type            string          `json:"actionType"`
	Status          string          `json:"status"`
	Data            json.RawMessage `json:"extractedData"`
	ExecutedData    json.RawMessage `json:"executedData,omitempty"`
	Confidence      float64         `json:"confidence"`
	Source          string          `json:"source"`
	DecidedBy       string          `json:"decidedBy,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	DecidedAt       *time.Time      `json:"decidedAt,omitempty"`
	ExecutedAt      *time.Time      `json:"executedAt,omitempty"`
}

func toWireAction(a storage.Action) wireAction {
	return wireAction{
		ID:              a.ID,
		SourceMessageID: a.SourceMessageID,
		ConversationID:  a.ConversationID,
		Type:            string(a.Type),
		Status:          string(a.Status),
		Data:            a.ExtractedData,
		ExecutedData:    a.ExecutedData,
		Confidence:      a.Confidence,
		Source:          a.Source,
		DecidedBy:       a.DecidedBy,
		CreatedAt:       a.CreatedAt,
		DecidedAt:       a.DecidedAt,
		ExecutedAt:      a.ExecutedAt,
	}
}

func toWireActions(as []storage.Action) []wireAction {
	out := make([]wireAction, len(as))
	for i, a := range as {
		out[i] = toWireAction(a)
	}
	return out
}

type wireEntity struct {
	ID        string          `json:"id"`
	ActionID  string          `json:"actionId"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toWireEntity(e storage.Entity) *wireEntity {
	if e.ID == "" {
		return nil
	}
	return &wireEntity{ID: e.ID, ActionID: e.ActionID, Kind: e.Kind, Payload: e.Payload, CreatedAt: e.CreatedAt}
}

type wireDigest struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	ProjectID      string          `json:"projectId,omitempty"`
	Type           string          `json:"digestType"`
	Content        json.RawMessage `json:"content"`
	RangeStartID   string          `json:"rangeStartMessageId"`
	RangeEndID     string          `json:"rangeEndMessageId"`
	MessageCount   int             `json:"messageCount"`
	Confidence     float64         `json:"confidence"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toWireDigests(ds []storage.Digest) []wireDigest {
	out := make([]wireDigest, len(ds))
	for i, d := range ds {
		out[i] = wireDigest{
			ID:             d.ID,
			ConversationID: d.ConversationID,
			ProjectID:      d.ProjectID,
			Type:           string(d.Type),
			Content:        d.Content,
			RangeStartID:   d.RangeStartID,
			RangeEndID:     d.RangeEndID,
			MessageCount:   d.MessageCount,
			Confidence:     d.Confidence,
			CreatedAt:      d.CreatedAt,
		}
	}
	return out
}

type wireStats struct {
	Total   int            `json:"total"`
	ByScope map[string]int `json:"byScope"`
	ByType  map[string]int `json:"byType"`
}

func toWireStats(s storage.KnowledgeStats) wireStats {
	out := wireStats{Total: s.Total, ByScope: make(map[string]int), ByType: make(map[string]int)}
	for k, v := range s.ByScope {
		out.ByScope[string(k)] = v
	}
	for k, v := range s.ByType {
		out.ByType[string(k)] = v
	}
	return out
}

type wireQueryLog struct {
	ID            string    `json:"id"`
	Query         string    `json:"query"`
	ResultCount   int       `json:"resultCount"`
	TopSimilarity float64   `json:"topSimilarity"`
	Helpful       *bool     `json:"helpful,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toWireQueryLogs(qs []storage.QueryLog) []wireQueryLog {
	out := make([]wireQueryLog, len(qs))
	for i, q := range qs {
		out[i] = wireQueryLog{
			ID:            q.ID,
			Query:         q.QueryText,
			ResultCount:   q.ResultCount,
			TopSimilarity: q.TopSimilarity,
			Helpful:       q.Helpful,
			CreatedAt:     q.CreatedAt,
		}
	}
	return out
}

// --- requests ---

type searchParams struct {
	Query     string   `json:"query"`
	UserID    string   `json:"userId"`
	Scopes    []string `json:"scopes"`
	ProjectID string   `json:"projectId"`
	RoleTag   string   `json:"roleTag"`
	Threshold float64  `json:"threshold"`
	Limit     int      `json:"limit"`
}

func (p searchParams) toQuery() (retrieval.Query, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return retrieval.Query{}, invalidf("userId is required")
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return retrieval.Query{}, invalidf("threshold must be between 0 and 1")
	}
	if p.Limit < 0 {
		return retrieval.Query{}, invalidf("limit must not be negative")
	}
	scopes := make([]brain.Scope, 0, len(p.Scopes))
	for _, s := range p.Scopes {
		scope, err := brain.ParseScope(s)
		if err != nil {
			return retrieval.Query{}, invalidf("%v", err)
		}
		scopes = append(scopes, scope)
	}
	return retrieval.Query{
		Text:      p.Query,
		UserID:    p.UserID,
		Scopes:    scopes,
		ProjectID: p.ProjectID,
		RoleTag:   p.RoleTag,
		Threshold: p.Threshold,
		Limit:     p.Limit,
	}, nil
}

type messageParams struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	ProjectID      string              `json:"projectId"`
	AuthorID       string              `json:"authorId"`
	AuthorName     string              `json:"authorName"`
	Text           string              `json:"text"`
	CreatedAt      *time.Time          `json:"createdAt"`
	Roster         []brain.Participant `json:"roster"`
}

func (p messageParams) toMessage(now time.Time) (storage.ChatMessage, error) {
	if p.ConversationID == "" {
		return storage.ChatMessage{}, invalidf("conversationId is required")
	}
	if strings.TrimSpace(p.Text) == "" {
		return storage.ChatMessage{}, invalidf("text is required")
	}
	m := storage.ChatMessage{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		ProjectID:      p.ProjectID,
		AuthorID:       p.AuthorID,
		AuthorName:     p.AuthorName,
		Text:           p.Text,
		CreatedAt:      now,
	}
	if p.CreatedAt != nil {
		m.CreatedAt = *p.CreatedAt
	}
	return m, nil
}
