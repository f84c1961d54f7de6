package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Opening the same directory twice must not re-apply migrations.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	v1, err := s1.AppliedMigrations()
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)
	for _, idx := range []string{"idx_chat_messages_conversation", "idx_digests_conversation", "idx_knowledge_scope", "idx_jobs_claim"} {
		var count int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count))
		assert.Equal(t, 1, count, "index %s", idx)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_init.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = parseMigrationVersion("init.sql")
	assert.Error(t, err)
}

func TestSaveMessage_AssignsSeqAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m1, err := s.SaveMessage(ctx, ChatMessage{ID: "m1", ConversationID: "c1", AuthorID: "u1", Text: "hello"})
	require.NoError(t, err)
	m2, err := s.SaveMessage(ctx, ChatMessage{ID: "m2", ConversationID: "c1", AuthorID: "u2", Text: "hi"})
	require.NoError(t, err)
	assert.Greater(t, m2.Seq, m1.Seq)

	again, err := s.SaveMessage(ctx, ChatMessage{ID: "m1", ConversationID: "c1", Text: "changed"})
	require.NoError(t, err)
	assert.Equal(t, m1.Seq, again.Seq)
	assert.Equal(t, "hello", again.Text)

	_, err = s.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessagesAfterAndPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var saved []ChatMessage
	for i, id := range []string{"a", "b", "c", "d"} {
		conv := "c1"
		if i == 3 {
			conv = "c2"
		}
		m, err := s.SaveMessage(ctx, ChatMessage{ID: id, ConversationID: conv, Text: id})
		require.NoError(t, err)
		saved = append(saved, m)
	}

	msgs, err := s.MessagesAfter(ctx, "c1", saved[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].ID)
	assert.Equal(t, "c", msgs[1].ID)

	pending, err := s.ConversationsWithPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []PendingConversation{{ConversationID: "c1", Pending: 3}}, pending)

	_, err = s.InsertDigests(ctx, []Digest{{
		ID: "d1", ConversationID: "c1", Type: "summary", Content: []byte(`{}`),
		RangeStartSeq: saved[0].Seq, RangeEndSeq: saved[1].Seq, RangeStartID: "a", RangeEndID: "b", MessageCount: 2, Confidence: 0.8,
	}})
	require.NoError(t, err)

	pending, err = s.ConversationsWithPending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []PendingConversation{{ConversationID: "c1", Pending: 1}, {ConversationID: "c2", Pending: 1}}, pending)

	last, err := s.LastDigestedSeq(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, saved[1].Seq, last)
}

func TestInsertDigests_SkipsDuplicateRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d := Digest{ID: "d1", ConversationID: "c1", Type: "decisions", Content: []byte(`["ship"]`),
		RangeStartSeq: 1, RangeEndSeq: 5, RangeStartID: "a", RangeEndID: "e", MessageCount: 5, Confidence: 0.9}
	inserted, err := s.InsertDigests(ctx, []Digest{d})
	require.NoError(t, err)
	assert.Len(t, inserted, 1)

	d.ID = "d2"
	inserted, err = s.InsertDigests(ctx, []Digest{d})
	require.NoError(t, err)
	assert.Empty(t, inserted)

	got, err := s.GetDigest(ctx, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `["ship"]`, string(got.Content))

	list, err := s.ListDigests(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListUnprocessedDigests(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"d1", "d2", "d3"} {
		_, err := s.InsertDigests(ctx, []Digest{{ID: id, ConversationID: "c1", Type: "summary", Content: []byte(`"x"`),
			RangeStartSeq: int64(i*10 + 1), RangeEndSeq: int64(i*10 + 5), RangeStartID: "a", RangeEndID: "b", MessageCount: 5, Confidence: 0.5}})
		require.NoError(t, err)
	}

	ok, _, err := s.ClaimExtraction(ctx, "digest", "d1", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.CompleteExtraction(ctx, "digest", "d1", 2))

	ok, _, err = s.ClaimExtraction(ctx, "digest", "d2", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.ListUnprocessedDigests(ctx, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d3", got[0].ID)

	got, err = s.ListUnprocessedDigests(ctx, 10, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
