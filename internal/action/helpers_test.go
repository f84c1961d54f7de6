package action

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/extract"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/rag"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

var seoul = time.FixedZone("KST", 9*60*60)

// Thursday, 2026-10-15 10:00 KST.
func fixedClock() time.Time {
	return time.Date(2026, 10, 15, 10, 0, 0, 0, seoul)
}

var roster = []brain.Participant{{ID: "u-minsu", Name: "민수"}, {ID: "u-alice", Name: "Alice"}}

type mockCompleter struct {
	mu         sync.Mutex
	requests   []llm.Request
	calls      atomic.Int32
	completeFn func(ctx context.Context, req llm.Request) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	m.calls.Add(1)
	return m.completeFn(ctx, req)
}

func replying(s string) *mockCompleter {
	return &mockCompleter{completeFn: func(context.Context, llm.Request) (string, error) { return s, nil }}
}

type mockGrounder struct {
	contextFn func(ctx context.Context, q retrieval.Query, maxChars int) (rag.Packed, retrieval.Response, error)
}

func (m *mockGrounder) Context(ctx context.Context, q retrieval.Query, maxChars int) (rag.Packed, retrieval.Response, error) {
	return m.contextFn(ctx, q, maxChars)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPipeline(s Store, c llm.Completer, opts ...Option) *Pipeline {
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return NewPipeline(s, c, extract.New(extract.WithClock(fixedClock)), opts...)
}

func meetingInput(id string) Input {
	return Input{
		MessageID:      id,
		ConversationID: "c1",
		ProjectID:      "proj-1",
		UserID:         "u-minsu",
		AuthorName:     "민수",
		Text:           "내일 오후 3시에 클라이언트 미팅 잡아줘",
		Roster:         roster,
	}
}
