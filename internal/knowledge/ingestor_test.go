package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

type mockEmbedder struct {
	model   string
	embedFn func(ctx context.Context, text string) ([]float32, error)
	calls   atomic.Int32
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, text)
}

func (m *mockEmbedder) Model() string { return m.model }

func okEmbedder() *mockEmbedder {
	return &mockEmbedder{model: "m1", embedFn: func(context.Context, string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertDigest(t *testing.T, s *storage.Store, id string, entries ...string) {
	t.Helper()
	content, err := json.Marshal(entries)
	require.NoError(t, err)
	_, err = s.InsertDigests(context.Background(), []storage.Digest{{
		ID: id, ConversationID: "c-" + id, Type: brain.DigestRisks, Content: content,
		RangeStartSeq: 1, RangeEndSeq: 5, MessageCount: 5, CreatedAt: time.Now().UTC(),
	}})
	require.NoError(t, err)
}

func newTestIngestor(s *storage.Store, e Embedder, opts ...IngestorOption) *Ingestor {
	return NewIngestor(s, NewExtractor(nil, nil), e, nil, opts...)
}

func TestIngestDigest_Idempotent(t *testing.T) {
	s := openTestStore(t)
	insertDigest(t, s, "d1", "vendor delays recur every quarter", "QA is understaffed")
	in := newTestIngestor(s, okEmbedder())
	ctx := context.Background()

	first, err := in.IngestDigest(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, first.ItemsCreated)
	assert.Equal(t, storage.ExtractionCompleted, first.Status)

	second, err := in.IngestDigest(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, second.ItemsCreated)
	assert.True(t, second.Skipped)

	items, err := s.ListKnowledgeBySource(ctx, brain.SourceDigest, "d1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	for _, it := range items {
		assert.GreaterOrEqual(t, it.Confidence, 0.0)
		assert.LessOrEqual(t, it.Confidence, 1.0)
		assert.Equal(t, "m1", it.EmbeddingModel)
	}

	log, err := s.GetExtractionLog(ctx, brain.SourceDigest, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, log.ItemsCreated)
}

func TestIngestDigest_EmbedFailureIsolated(t *testing.T) {
	s := openTestStore(t)
	insertDigest(t, s, "d1", "first risk", "second risk", "third risk")
	e := &mockEmbedder{model: "m1", embedFn: func(_ context.Context, text string) ([]float32, error) {
		if strings.HasPrefix(text, "second") {
			return nil, errors.New("embedding service 500")
		}
		return []float32{0, 1, 0}, nil
	}}
	out, err := newTestIngestor(s, e).IngestDigest(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, out.ItemsCreated)
	assert.Equal(t, 1, out.Unembedded)
	assert.Len(t, out.ItemIDs, 3)

	log, err := s.GetExtractionLog(context.Background(), brain.SourceDigest, "d1")
	require.NoError(t, err)
	assert.Equal(t, 3, log.ItemsCreated)

	pending, err := s.ListItemsNeedingEmbedding(context.Background(), "m1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "second risk", pending[0].Content)
}

func TestIngestDigest_MissingDigestMarksFailed(t *testing.T) {
	s := openTestStore(t)
	in := newTestIngestor(s, okEmbedder())
	ctx := context.Background()

	_, err := in.IngestDigest(ctx, "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)

	log, err := s.GetExtractionLog(ctx, brain.SourceDigest, "nope")
	require.NoError(t, err)
	assert.Equal(t, storage.ExtractionFailed, log.Status)
	assert.NotEmpty(t, log.Error)

	// A failed source is retriable.
	insertDigest(t, s, "nope", "late risk")
	out, err := in.IngestDigest(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, 1, out.ItemsCreated)
}

func TestStaleProcessingReclaimedOnlyByBatch(t *testing.T) {
	s := openTestStore(t)
	insertDigest(t, s, "d1", "stuck risk")
	ctx := context.Background()

	claimed, _, err := s.ClaimExtraction(ctx, brain.SourceDigest, "d1", time.Time{})
	require.NoError(t, err)
	require.True(t, claimed)

	later := func() time.Time { return time.Now().Add(time.Hour) }
	in := newTestIngestor(s, okEmbedder(), WithIngestClock(later), WithStaleAfter(10*time.Minute))

	out, err := in.IngestDigest(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, storage.ExtractionProcessing, out.Status)

	res, err := in.BatchProcess(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.ItemsCreated)

	log, err := s.GetExtractionLog(ctx, brain.SourceDigest, "d1")
	require.NoError(t, err)
	assert.Equal(t, storage.ExtractionCompleted, log.Status)
}

func TestBatchProcess_FreshProcessingIsLeftAlone(t *testing.T) {
	s := openTestStore(t)
	insertDigest(t, s, "d1", "busy risk")
	ctx := context.Background()
	_, _, err := s.ClaimExtraction(ctx, brain.SourceDigest, "d1", time.Time{})
	require.NoError(t, err)

	res, err := newTestIngestor(s, okEmbedder()).BatchProcess(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, res.Outcomes)
}

func TestBatchProcess_ManySources(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 9; i++ {
		insertDigest(t, s, fmt.Sprintf("d%d", i), fmt.Sprintf("risk %d", i))
	}
	res, err := newTestIngestor(s, okEmbedder()).BatchProcess(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Processed)
	assert.Equal(t, 9, res.ItemsCreated)
	assert.Len(t, res.Outcomes, 9)

	again, err := newTestIngestor(s, okEmbedder()).BatchProcess(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
}

func TestIngestAction_RequiresExecuted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	payload, _ := json.Marshal(brain.TodoPayload{Title: "보고서 작성"})
	_, _, err := s.CreateActionBatch(ctx, "m1", []storage.Action{{
		ID: "a1", ConversationID: "c1", Type: brain.ActionCreateTodo, ExtractedData: payload, Confidence: 0.7, Source: "deterministic",
	}})
	require.NoError(t, err)

	in := newTestIngestor(s, okEmbedder())
	_, err = in.IngestAction(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotExecuted)

	_, _, err = s.DecideAction(ctx, "a1", brain.StatusConfirmed, "u1")
	require.NoError(t, err)
	_, executed, err := s.ExecuteAction(ctx, "a1", func(a storage.Action) (storage.Entity, json.RawMessage, error) {
		return storage.Entity{ID: "e1", Kind: "todo", Payload: a.ExtractedData}, json.RawMessage(`{"todoId":"e1"}`), nil
	})
	require.NoError(t, err)
	require.True(t, executed)

	out, err := in.IngestAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, out.ItemsCreated)
}

func TestIngestReview_PersonalScope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	out, err := newTestIngestor(s, okEmbedder()).IngestReview(ctx, Review{
		ID: "r1", ReviewerID: "u1", RevieweeID: "u2", Rating: 5, Comment: "great facilitator",
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.ItemsCreated)

	it, err := s.GetKnowledgeItem(ctx, out.ItemIDs[0])
	require.NoError(t, err)
	assert.Equal(t, brain.ScopePersonal, it.Scope)
	assert.Equal(t, "u2", it.UserID)
}

func TestIngestReview_RequiresIDAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	in := newTestIngestor(s, okEmbedder())

	_, err := in.IngestReview(ctx, Review{RevieweeID: "u2", Rating: 4, Comment: "clear notes"})
	require.ErrorIs(t, err, ErrMissingReviewID)

	r := Review{ID: "r9", ReviewerID: "u1", RevieweeID: "u2", Rating: 4, Comment: "clear notes"}
	first, err := in.IngestReview(ctx, r)
	require.NoError(t, err)
	require.Equal(t, 1, first.ItemsCreated)

	again, err := in.IngestReview(ctx, r)
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	items, err := s.ListKnowledgeBySource(ctx, brain.SourceReview, "r9")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestReembed(t *testing.T) {
	s := openTestStore(t)
	insertDigest(t, s, "d1", "a", "b")
	ctx := context.Background()

	old := &mockEmbedder{model: "old", embedFn: func(context.Context, string) ([]float32, error) { return []float32{1}, nil }}
	_, err := newTestIngestor(s, old).IngestDigest(ctx, "d1")
	require.NoError(t, err)

	e := okEmbedder()
	res, err := newTestIngestor(s, e).Reembed(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ReembedResult{Processed: 2, Updated: 2}, res)

	res, err = newTestIngestor(s, e).Reembed(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}
