package storage

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

func item(id string, scope brain.Scope, userID, projectID, role string) KnowledgeItem {
	return KnowledgeItem{
		ID: id, UserID: userID, ProjectID: projectID, Scope: scope, RoleTag: role,
		Content: "content " + id, Type: brain.KnowledgeDecisionPattern,
		SourceType: brain.SourceManual, SourceID: "src-" + id, Confidence: 0.7,
		IsActive: true, Embedding: []float32{1, 0, 0}, EmbeddingModel: "m1",
	}
}

func visibleIDs(t *testing.T, s *Store, v Visibility) []string {
	t.Helper()
	var ids []string
	require.NoError(t, s.ScanVisibleEmbeddings(context.Background(), v, func(id string, vec []float32) error {
		assert.Len(t, vec, 3)
		ids = append(ids, id)
		return nil
	}))
	sort.Strings(ids)
	return ids
}

func TestVisibility_SQLAndPredicateAgree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	items := []KnowledgeItem{
		item("p-alice", brain.ScopePersonal, "alice", "", ""),
		item("p-bob", brain.ScopePersonal, "bob", "", ""),
		item("t-proj1", brain.ScopeTeam, "alice", "proj1", ""),
		item("t-proj2", brain.ScopeTeam, "bob", "proj2", ""),
		item("t-none", brain.ScopeTeam, "bob", "", ""),
		item("r-pm", brain.ScopeRole, "", "", "pm"),
		item("r-dev", brain.ScopeRole, "", "", "dev"),
		item("g", brain.ScopeGlobal, "", "", ""),
	}
	expired := item("g-expired", brain.ScopeGlobal, "", "", "")
	expired.ExpiresAt = &past
	inactive := item("g-inactive", brain.ScopeGlobal, "", "", "")
	inactive.IsActive = false
	unembedded := item("g-noembed", brain.ScopeGlobal, "", "", "")
	unembedded.Embedding = nil
	items = append(items, expired, inactive, unembedded)
	for _, it := range items {
		require.NoError(t, s.InsertKnowledgeItem(ctx, it))
	}

	cases := []struct {
		name string
		v    Visibility
		want []string
	}{
		{"all scopes for alice", Visibility{UserID: "alice"}, []string{"g", "p-alice", "r-dev", "r-pm", "t-none", "t-proj1", "t-proj2"}},
		{"personal only", Visibility{UserID: "bob", Scopes: []brain.Scope{brain.ScopePersonal}}, []string{"p-bob"}},
		{"personal without user", Visibility{Scopes: []brain.Scope{brain.ScopePersonal}}, nil},
		{"team narrowed to project", Visibility{UserID: "alice", Scopes: []brain.Scope{brain.ScopeTeam}, ProjectID: "proj1"}, []string{"t-none", "t-proj1"}},
		{"role narrowed to tag", Visibility{Scopes: []brain.Scope{brain.ScopeRole}, RoleTag: "pm"}, []string{"r-pm"}},
		{"global", Visibility{Scopes: []brain.Scope{brain.ScopeGlobal}}, []string{"g"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, visibleIDs(t, s, tc.v))

			var allowed []string
			for _, it := range items {
				if tc.v.Allows(it) {
					allowed = append(allowed, it.ID)
				}
			}
			sort.Strings(allowed)
			assert.Equal(t, tc.want, allowed)
		})
	}
}

func TestScanVisibleEmbeddings_StopsOnError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertKnowledgeItem(context.Background(), item("g", brain.ScopeGlobal, "", "", "")))
	stop := errors.New("stop")
	err := s.ScanVisibleEmbeddings(context.Background(), Visibility{}, func(string, []float32) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestKnowledgeItem_RoundTripAndUsage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"k1", "k2", "k3"} {
		require.NoError(t, s.InsertKnowledgeItem(ctx, item(id, brain.ScopeGlobal, "u1", "", "")))
	}

	got, err := s.GetKnowledgeItems(ctx, []string{"k3", "missing", "k1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "k3", got[0].ID)
	assert.Equal(t, "k1", got[1].ID)
	assert.Equal(t, []float32{1, 0, 0}, got[0].Embedding)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.IncrementUsage(ctx, []string{"k1", "k3"}, now))
	require.NoError(t, s.IncrementUsage(ctx, []string{"k1"}, now))

	k1, err := s.GetKnowledgeItem(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, k1.UsageCount)
	require.NotNil(t, k1.LastUsedAt)
	assert.True(t, now.Equal(*k1.LastUsedAt))

	require.NoError(t, s.DeactivateKnowledgeItem(ctx, "k2"))
	k2, err := s.GetKnowledgeItem(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, k2.IsActive)
	assert.ErrorIs(t, s.DeactivateKnowledgeItem(ctx, "nope"), ErrNotFound)
}

func TestListItemsNeedingEmbedding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fresh := item("fresh", brain.ScopeGlobal, "", "", "")
	fresh.EmbeddingModel = "m2"
	missing := item("missing", brain.ScopeGlobal, "", "", "")
	missing.Embedding = nil
	missing.EmbeddingModel = ""
	stale := item("stale", brain.ScopeGlobal, "", "", "")
	for _, it := range []KnowledgeItem{fresh, missing, stale} {
		require.NoError(t, s.InsertKnowledgeItem(ctx, it))
	}

	got, err := s.ListItemsNeedingEmbedding(ctx, "m2", 10)
	require.NoError(t, err)
	var ids []string
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []string{"missing", "stale"}, ids)

	require.NoError(t, s.UpdateEmbedding(ctx, "missing", []float32{0, 1}, "m2"))
	got, err = s.ListItemsNeedingEmbedding(ctx, "m2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].ID)
}

func TestKnowledgeStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertKnowledgeItem(ctx, item("a", brain.ScopePersonal, "u1", "", "")))
	require.NoError(t, s.InsertKnowledgeItem(ctx, item("b", brain.ScopeTeam, "u1", "p", "")))
	require.NoError(t, s.InsertKnowledgeItem(ctx, item("c", brain.ScopeTeam, "u2", "p", "")))

	stats, err := s.KnowledgeStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByScope[brain.ScopePersonal])
	assert.Equal(t, 1, stats.ByScope[brain.ScopeTeam])
	assert.Equal(t, 2, stats.ByType[brain.KnowledgeDecisionPattern])
}

func TestClaimExtraction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, _, err := s.ClaimExtraction(ctx, brain.SourceDigest, "d1", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, existing, err := s.ClaimExtraction(ctx, brain.SourceDigest, "d1", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ExtractionProcessing, existing.Status)

	// A processing row older than the cutoff is treated as crashed.
	ok, _, err = s.ClaimExtraction(ctx, brain.SourceDigest, "d1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.FailExtraction(ctx, brain.SourceDigest, "d1", errors.New("llm down")))
	l, err := s.GetExtractionLog(ctx, brain.SourceDigest, "d1")
	require.NoError(t, err)
	assert.Equal(t, ExtractionFailed, l.Status)
	assert.Equal(t, "llm down", l.Error)

	ok, _, err = s.ClaimExtraction(ctx, brain.SourceDigest, "d1", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.CompleteExtraction(ctx, brain.SourceDigest, "d1", 3))

	ok, existing, err = s.ClaimExtraction(ctx, brain.SourceDigest, "d1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, existing.ItemsCreated)

	assert.ErrorIs(t, s.CompleteExtraction(ctx, brain.SourceAction, "none", 0), ErrNotFound)
}

func TestQueryLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertQueryLog(ctx, QueryLog{
		ID: "q1", UserID: "u1", QueryText: "예산", QueryEmbedding: []float32{0.5},
		Scopes: []brain.Scope{brain.ScopeTeam}, Threshold: 0.3, RetrievedIDs: []string{"k1"}, ResultCount: 1, TopSimilarity: 0.8,
	}))
	require.NoError(t, s.InsertQueryLog(ctx, QueryLog{ID: "q2", UserID: "u1", QueryText: "없음", Threshold: 0.3}))

	require.NoError(t, s.SetQueryFeedback(ctx, "q1", true))
	assert.ErrorIs(t, s.SetQueryFeedback(ctx, "nope", true), ErrNotFound)

	got, err := s.RecentQueries(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := map[string]QueryLog{got[0].ID: got[0], got[1].ID: got[1]}
	require.NotNil(t, byID["q1"].Helpful)
	assert.True(t, *byID["q1"].Helpful)
	assert.Equal(t, []string{"k1"}, byID["q1"].RetrievedIDs)
	assert.Empty(t, byID["q2"].RetrievedIDs)
	assert.Zero(t, byID["q2"].ResultCount)
}

func TestJobQueue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "j1", Type: "knowledge_digest", PayloadJSON: `{"digest_id":"d1"}`, MaxAttempts: 2}))

	none, err := s.ClaimNextJob(ctx, []string{"other"})
	require.NoError(t, err)
	assert.Nil(t, none)

	j, err := s.ClaimNextJob(ctx, []string{"knowledge_digest"})
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "running", j.Status)

	again, err := s.ClaimNextJob(ctx, []string{"knowledge_digest"})
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, s.FailJob(ctx, "j1", "boom"))
	stored, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "pending", stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.True(t, stored.RunAfter.After(time.Now()))

	require.NoError(t, s.FailJob(ctx, "j1", "boom again"))
	stored, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "failed", stored.Status)
	assert.Equal(t, "boom again", stored.LastError)

	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "j2", Type: "knowledge_action", PayloadJSON: `{}`}))
	j, err = s.ClaimNextJob(ctx, []string{"knowledge_digest", "knowledge_action"})
	require.NoError(t, err)
	require.NotNil(t, j)
	require.NoError(t, s.CompleteJob(ctx, j.ID))

	counts, err := s.JobCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"failed": 1, "completed": 1}, counts)

	assert.ErrorIs(t, s.CompleteJob(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, s.FailJob(ctx, "nope", "x"), ErrNotFound)
}
