package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

type mockCompleter struct {
	completeFn func(ctx context.Context, req llm.Request) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	return m.completeFn(ctx, req)
}

func replying(s string) *mockCompleter {
	return &mockCompleter{completeFn: func(context.Context, llm.Request) (string, error) { return s, nil }}
}

func decisionsDigest() storage.Digest {
	return storage.Digest{
		ID: "d1", ConversationID: "c1", ProjectID: "p1", Type: brain.DigestDecisions,
		Content: []byte(`["외주 견적은 3곳 이상 비교한다","배포 일정은 목요일로 고정한다"]`), MessageCount: 12, Confidence: 0.8,
	}
}

func TestFromDigest_UsesModelOutput(t *testing.T) {
	var got llm.Request
	c := &mockCompleter{completeFn: func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return `{"items":[
			{"content":"외주 견적은 3곳 이상 비교한다","type":"budget_judgment","scope":"team","confidence":0.9},
			{"content":"배포 승인은 PM이 한다","type":"made_up","scope":"role","roleTag":"pm","confidence":1.4},
			{"content":"secret","type":"preference","scope":"personal","confidence":0.5},
			{"content":"   ","type":"preference","scope":"team","confidence":0.5}
		]}`, nil
	}}
	drafts, err := NewExtractor(c, nil).FromDigest(context.Background(), decisionsDigest())
	require.NoError(t, err)

	assert.True(t, got.JSON)
	assert.Contains(t, got.Messages[0].Content, "배포 일정은 목요일로 고정한다")

	require.Len(t, drafts, 3)
	assert.Equal(t, brain.KnowledgeBudgetJudgment, drafts[0].Type)
	assert.Equal(t, "p1", drafts[0].ProjectID)

	assert.Equal(t, brain.KnowledgeDecisionPattern, drafts[1].Type)
	assert.Equal(t, brain.ScopeRole, drafts[1].Scope)
	assert.Equal(t, 1.0, drafts[1].Confidence)

	assert.Equal(t, brain.ScopeTeam, drafts[2].Scope)
}

func TestFromDigest_FallsBackPerEntry(t *testing.T) {
	for name, c := range map[string]llm.Completer{
		"malformed": replying("not json at all"),
		"error":     &mockCompleter{completeFn: func(context.Context, llm.Request) (string, error) { return "", errors.New("503") }},
		"nil":       nil,
	} {
		t.Run(name, func(t *testing.T) {
			drafts, err := NewExtractor(c, nil).FromDigest(context.Background(), decisionsDigest())
			require.NoError(t, err)
			require.Len(t, drafts, 2)
			assert.Equal(t, brain.KnowledgeBudgetJudgment, drafts[0].Type)
			assert.Equal(t, brain.KnowledgeSchedule, drafts[1].Type)
			for _, d := range drafts {
				assert.Equal(t, brain.ScopeTeam, d.Scope)
				assert.Equal(t, FallbackConfidence, d.Confidence)
			}
		})
	}
}

func TestFromDigest_SectionTypes(t *testing.T) {
	cases := map[brain.DigestType]brain.KnowledgeType{
		brain.DigestDecisions:   brain.KnowledgeDecisionPattern,
		brain.DigestActionItems: brain.KnowledgeResponsibility,
		brain.DigestRisks:       brain.KnowledgeRecurringRisk,
		brain.DigestSummary:     brain.KnowledgeLesson,
	}
	for section, want := range cases {
		content := `["vendor review happens in the design channel"]`
		if section == brain.DigestSummary {
			content = `"vendor review happens in the design channel"`
		}
		d := storage.Digest{ID: "d", Type: section, Content: []byte(content)}
		drafts, err := NewExtractor(nil, nil).FromDigest(context.Background(), d)
		require.NoError(t, err)
		require.Len(t, drafts, 1, section)
		assert.Equal(t, want, drafts[0].Type, section)
	}
}

func TestFromAction(t *testing.T) {
	event, _ := json.Marshal(brain.EventPayload{Title: "클라이언트 미팅", Date: "2026-10-16", StartTime: "15:00", Location: "강남역", ProjectID: "p1"})
	drafts, err := NewExtractor(nil, nil).FromAction(storage.Action{
		ID: "a1", Type: brain.ActionCreateEvent, ExtractedData: event, Confidence: 0.85,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, brain.KnowledgeSchedule, drafts[0].Type)
	assert.Contains(t, drafts[0].Content, "2026-10-16 15:00")
	assert.Equal(t, brain.KnowledgeLocation, drafts[1].Type)
	for _, d := range drafts {
		assert.Equal(t, brain.ScopeTeam, d.Scope)
		assert.Equal(t, "p1", d.ProjectID)
		assert.InDelta(t, ActionConfidence*0.85, d.Confidence, 1e-9)
	}

	todo, _ := json.Marshal(brain.TodoPayload{Title: "보고서 작성", AssigneeIDs: []string{"u-minsu"}, DueDate: "2026-10-16"})
	drafts, err = NewExtractor(nil, nil).FromAction(storage.Action{Type: brain.ActionCreateTodo, ExtractedData: todo})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, brain.KnowledgeResponsibility, drafts[0].Type)
	assert.Contains(t, drafts[0].Content, "u-minsu")
	assert.Equal(t, ActionConfidence, drafts[0].Confidence)
}

func TestFromReview(t *testing.T) {
	drafts, err := NewExtractor(nil, nil).FromReview(Review{
		ID: "r1", ReviewerID: "u1", RevieweeID: "u2", Rating: 4,
		Comment: "꼼꼼하게 검토해 줌", Strengths: []string{"communication", " "}, Improvements: []string{"estimates"},
	})
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	for _, d := range drafts {
		assert.Equal(t, brain.ScopePersonal, d.Scope)
		assert.Equal(t, "u2", d.UserID)
		assert.GreaterOrEqual(t, d.Confidence, 0.0)
		assert.LessOrEqual(t, d.Confidence, 1.0)
	}
	assert.True(t, strings.HasPrefix(drafts[0].Content, "Peer feedback (4/5)"))
	assert.Equal(t, brain.KnowledgeLesson, drafts[2].Type)

	_, err = NewExtractor(nil, nil).FromReview(Review{ID: "r2"})
	assert.Error(t, err)
}
