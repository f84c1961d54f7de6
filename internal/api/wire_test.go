package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/rag"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

func jsonKeys(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestWireAction_CamelCase(t *testing.T) {
	at := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)
	got := jsonKeys(t, toWireAction(storage.Action{
		ID:              "a1",
		SourceMessageID: "m1",
		Type:            brain.ActionCreateTodo,
		Status:          brain.StatusConfirmed,
		ExtractedData:   json.RawMessage(`{"title":"보고서 작성"}`),
		Confidence:      0.9,
		Source:          "llm",
		DecidedBy:       "u1",
		CreatedAt:       at,
		DecidedAt:       &at,
	}))

	assert.Equal(t, "a1", got["id"])
	assert.Equal(t, "m1", got["sourceMessageId"])
	assert.Equal(t, "create_todo", got["actionType"])
	assert.Equal(t, "confirmed", got["status"])
	assert.Equal(t, map[string]any{"title": "보고서 작성"}, got["extractedData"])
	assert.Equal(t, "u1", got["decidedBy"])
	assert.Equal(t, "2026-10-15T01:00:00Z", got["decidedAt"])
	assert.NotContains(t, got, "executedAt")
	assert.NotContains(t, got, "executedData")
}

func TestWireResult_FlattensItem(t *testing.T) {
	got := toWireResults([]retrieval.Result{{
		Item: storage.KnowledgeItem{
			ID:         "k1",
			Content:    "배포 일정은 목요일로 고정한다",
			Type:       brain.KnowledgeSchedule,
			Scope:      brain.ScopeTeam,
			SourceType: brain.SourceDigest,
			SourceID:   "d1",
			IsActive:   true,
		},
		Similarity: 0.87,
	}})
	require.Len(t, got, 1)
	keys := jsonKeys(t, got[0])
	assert.Equal(t, "k1", keys["id"])
	assert.Equal(t, "schedule_pattern", keys["knowledgeType"])
	assert.Equal(t, "team", keys["scope"])
	assert.Equal(t, "digest", keys["sourceType"])
	assert.Equal(t, 0.87, keys["similarity"])
	assert.NotContains(t, keys, "userId")
}

func TestWireEntity_EmptyIsNil(t *testing.T) {
	assert.Nil(t, toWireEntity(storage.Entity{}))
	assert.NotNil(t, toWireEntity(storage.Entity{ID: "e1"}))
}

func TestWireContext_UsedIDs(t *testing.T) {
	c := toWireContext(rag.Packed{
		Text:      "- [lesson_learned] x",
		Used:      []retrieval.Result{{Item: storage.KnowledgeItem{ID: "k1"}}},
		Truncated: true,
	})
	assert.Equal(t, []string{"k1"}, c.UsedIDs)
	assert.True(t, c.Truncated)
}

func TestWireStats(t *testing.T) {
	got := toWireStats(storage.KnowledgeStats{
		Total:   3,
		ByScope: map[brain.Scope]int{brain.ScopePersonal: 1, brain.ScopeTeam: 2},
		ByType:  map[brain.KnowledgeType]int{brain.KnowledgeLesson: 3},
	})
	assert.Equal(t, wireStats{
		Total:   3,
		ByScope: map[string]int{"personal": 1, "team": 2},
		ByType:  map[string]int{"lesson_learned": 3},
	}, got)
}

func TestSearchParams_ToQuery(t *testing.T) {
	q, err := searchParams{
		Query:     "견적",
		UserID:    "u1",
		Scopes:    []string{"team", "global"},
		ProjectID: "p1",
		Threshold: 0.5,
		Limit:     3,
	}.toQuery()
	require.NoError(t, err)
	assert.Equal(t, retrieval.Query{
		Text:      "견적",
		UserID:    "u1",
		Scopes:    []brain.Scope{brain.ScopeTeam, brain.ScopeGlobal},
		ProjectID: "p1",
		Threshold: 0.5,
		Limit:     3,
	}, q)

	for _, bad := range []searchParams{
		{Query: "x"},
		{Query: "x", UserID: "u1", Scopes: []string{"company"}},
		{Query: "x", UserID: "u1", Threshold: -0.1},
		{Query: "x", UserID: "u1", Limit: -1},
	} {
		_, err := bad.toQuery()
		assert.ErrorIs(t, err, errInvalid)
	}
}

func TestMessageParams_ToMessage(t *testing.T) {
	now := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)
	m, err := messageParams{ID: "m1", ConversationID: "c1", AuthorID: "u1", Text: "안녕"}.toMessage(now)
	require.NoError(t, err)
	assert.Equal(t, now, m.CreatedAt)
	assert.Equal(t, "c1", m.ConversationID)

	at := now.Add(-time.Hour)
	m, err = messageParams{ConversationID: "c1", Text: "안녕", CreatedAt: &at}.toMessage(now)
	require.NoError(t, err)
	assert.Equal(t, at, m.CreatedAt)

	_, err = messageParams{ConversationID: "c1", Text: " "}.toMessage(now)
	assert.ErrorIs(t, err, errInvalid)
}
