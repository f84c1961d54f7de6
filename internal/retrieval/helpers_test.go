package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func knowledge(id string, scope brain.Scope, userID string, vec []float32) storage.KnowledgeItem {
	return storage.KnowledgeItem{
		ID: id, UserID: userID, Scope: scope, Content: "content of " + id,
		Type: brain.KnowledgePreference, SourceType: brain.SourceManual, SourceID: id,
		Confidence: 0.8, IsActive: true, Embedding: vec, EmbeddingModel: "test",
	}
}

// seed stores items and mirrors them into every index given.
func seed(t *testing.T, s *storage.Store, items []storage.KnowledgeItem, indexes ...Index) {
	t.Helper()
	ctx := context.Background()
	for _, it := range items {
		require.NoError(t, s.InsertKnowledgeItem(ctx, it))
		for _, idx := range indexes {
			require.NoError(t, idx.Upsert(ctx, it))
		}
	}
}

// fixture has similarities 1.0, ~0.89, ~0.45 and 0 to the query [1,0].
func fixture() []storage.KnowledgeItem {
	return []storage.KnowledgeItem{
		knowledge("exact", brain.ScopeGlobal, "", []float32{1, 0}),
		knowledge("close", brain.ScopeTeam, "alice", []float32{2, 1}),
		knowledge("far", brain.ScopeGlobal, "", []float32{1, 2}),
		knowledge("orthogonal", brain.ScopeGlobal, "", []float32{0, 1}),
		knowledge("alice-secret", brain.ScopePersonal, "alice", []float32{1, 0.01}),
	}
}

type mockQueryEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockQueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func constantEmbedder(vec []float32) *mockQueryEmbedder {
	return &mockQueryEmbedder{embedFn: func(context.Context, string) ([]float32, error) { return vec, nil }}
}
