package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/action"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/digest"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/extract"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/knowledge"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/rag"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const testToken = "test-token-12345"

const digestResponse = `{
	"decisions": ["외주 견적은 3곳 이상 비교한다"],
	"action_items": ["민수: 보고서 작성"],
	"risks": ["촬영 장비 대여 지연"],
	"summary": "주간 회의",
	"confidence": 0.8
}`

var seoul = time.FixedZone("KST", 9*60*60)

// Thursday, 2026-10-15 10:00 KST.
func fixedClock() time.Time {
	return time.Date(2026, 10, 15, 10, 0, 0, 0, seoul)
}

// constantEmbedder maps every text to the same vector, so every visible item
// matches every query.
type constantEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (c *constantEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedFn != nil {
		return c.embedFn(ctx, text)
	}
	return []float32{1, 0}, nil
}

func (c *constantEmbedder) Model() string { return "test" }

type mockCompleter struct {
	completeFn func(ctx context.Context, req llm.Request) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	return m.completeFn(ctx, req)
}

type testEnv struct {
	handler  http.Handler
	store    *storage.Store
	pipeline *action.Pipeline
	mcp      MCPDeps
}

// newTestEnv wires real components over an in-memory store. completer feeds
// the action pipeline; nil keeps extraction deterministic.
func newTestEnv(t *testing.T, completer llm.Completer) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	emb := retrieval.NewEmbedder(&constantEmbedder{}, 0)
	idx := retrieval.NewSQLiteIndex(store)
	retriever := retrieval.NewRetriever(emb, idx, store)
	svc := rag.NewService(retriever, nil)
	ingestor := knowledge.NewIngestor(store, knowledge.NewExtractor(nil, nil), emb, nil)
	pipeline := action.NewPipeline(store, completer, extract.New(extract.WithClock(fixedClock)), action.WithClock(fixedClock))
	batcher := digest.NewBatcher(store, &mockCompleter{completeFn: func(context.Context, llm.Request) (string, error) {
		return digestResponse, nil
	}}, "test-model")

	env := &testEnv{store: store, pipeline: pipeline}
	env.handler = NewHandler(Deps{
		Store:       store,
		Ingestor:    ingestor,
		Retriever:   retriever,
		Context:     svc,
		Actions:     pipeline,
		Digests:     batcher,
		Index:       idx,
		Token:       testToken,
		MinMessages: 20,
		Now:         fixedClock,
	})
	env.mcp = MCPDeps{Store: store, Retriever: retriever, Context: svc, Actions: pipeline}
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// call sends an authorized request and decodes the JSON response.
func (e *testEnv) call(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body = %s", rr.Body.String())
	return rr.Code, out
}

// post marshals body as JSON.
func (e *testEnv) post(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return e.call(t, http.MethodPost, url, string(b))
}

func (e *testEnv) ingestReview(t *testing.T, reviewee, comment string) []string {
	t.Helper()
	code, out := e.post(t, "/ingest", map[string]any{
		"action": "ingestReview",
		"review": map[string]any{
			"id":         "review-" + reviewee + "-" + comment,
			"reviewerId": "u-lead",
			"revieweeId": reviewee,
			"rating":     4,
			"comment":    comment,
		},
	})
	require.Equal(t, http.StatusOK, code, out)
	result := out["result"].(map[string]any)
	var ids []string
	for _, id := range result["itemIds"].([]any) {
		ids = append(ids, id.(string))
	}
	return ids
}

func resultIDs(out map[string]any) []string {
	var ids []string
	for _, r := range out["results"].([]any) {
		ids = append(ids, r.(map[string]any)["id"].(string))
	}
	return ids
}

func httptestRecorder(e *testEnv, method, url, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}
