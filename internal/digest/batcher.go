// Package digest condenses unsummarized chat messages into structured
// conversation digests.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/ingest"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/metrics"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const (
	DefaultMinMessages = 20
	DefaultWindow      = 200
)

// Store is the part of storage.Store the batcher uses.
type Store interface {
	LastDigestedSeq(ctx context.Context, conversationID string) (int64, error)
	MessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]storage.ChatMessage, error)
	InsertDigests(ctx context.Context, digests []storage.Digest) ([]storage.Digest, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Batcher creates digests for one conversation at a time. Runs for the same
// conversation are serialized; different conversations proceed in parallel.
type Batcher struct {
	store  Store
	llm    llm.Completer
	model  string
	window int
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Batcher)

func WithWindow(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.window = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Batcher) { b.now = now }
}

// NewBatcher creates a Batcher. model is recorded on every digest.
func NewBatcher(store Store, completer llm.Completer, model string, opts ...Option) *Batcher {
	b := &Batcher{
		store:  store,
		llm:    completer,
		model:  model,
		window: DefaultWindow,
		now:    time.Now,
		logger: zap.NewNop(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Batcher) lock(conversationID string) func() {
	b.mu.Lock()
	l, ok := b.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[conversationID] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Run digests the messages after the conversation's last digest when at
// least minMessages of them exist. It returns nil digests, and no error,
// when there is nothing to do or the model could not produce a digest.
// Errors are reserved for store failures.
func (b *Batcher) Run(ctx context.Context, conversationID string, minMessages int) ([]storage.Digest, error) {
	if minMessages <= 0 {
		minMessages = 1
	}
	unlock := b.lock(conversationID)
	defer unlock()

	last, err := b.store.LastDigestedSeq(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := b.store.MessagesAfter(ctx, conversationID, last, b.window)
	if err != nil {
		return nil, err
	}
	if len(msgs) < minMessages {
		return nil, nil
	}

	raw, err := b.llm.Complete(ctx, buildPrompt(msgs))
	if err != nil {
		b.logger.Warn("digest completion failed",
			zap.String("conversation_id", conversationID), zap.Int("messages", len(msgs)), zap.Error(err))
		return nil, nil
	}
	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		b.logger.Warn("malformed digest response",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, nil
	}
	if resp.empty() {
		b.logger.Info("model returned an empty digest", zap.String("conversation_id", conversationID))
		return nil, nil
	}

	digests, err := b.build(conversationID, msgs, resp)
	if err != nil {
		return nil, err
	}
	inserted, err := b.store.InsertDigests(ctx, digests)
	if err != nil {
		return nil, err
	}

	for _, d := range inserted {
		metrics.DigestsCreated.WithLabelValues(string(d.Type)).Inc()
		if err := b.store.EnqueueJob(ctx, ingest.DigestJob(d.ID)); err != nil {
			// The digest stays visible to batchProcess, so this is not fatal.
			b.logger.Warn("enqueueing knowledge job failed", zap.String("digest_id", d.ID), zap.Error(err))
		}
	}
	b.logger.Info("conversation digested",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", len(msgs)),
		zap.Int("digests", len(inserted)),
	)
	return inserted, nil
}

func (b *Batcher) build(conversationID string, msgs []storage.ChatMessage, resp response) ([]storage.Digest, error) {
	first, last := msgs[0], msgs[len(msgs)-1]
	var projectID string
	for i := len(msgs) - 1; i >= 0 && projectID == ""; i-- {
		projectID = msgs[i].ProjectID
	}
	now := b.now().UTC()
	base := storage.Digest{
		ConversationID: conversationID,
		ProjectID:      projectID,
		RangeStartSeq:  first.Seq,
		RangeEndSeq:    last.Seq,
		RangeStartID:   first.ID,
		RangeEndID:     last.ID,
		MessageCount:   len(msgs),
		Model:          b.model,
		Confidence:     brain.ClampConfidence(resp.Confidence),
		CreatedAt:      now,
	}

	sections := []struct {
		typ     brain.DigestType
		content any
		empty   bool
	}{
		{brain.DigestDecisions, []string(resp.Decisions), len(resp.Decisions) == 0},
		{brain.DigestActionItems, []string(resp.ActionItems), len(resp.ActionItems) == 0},
		{brain.DigestRisks, []string(resp.Risks), len(resp.Risks) == 0},
		{brain.DigestSummary, strings.TrimSpace(resp.Summary), strings.TrimSpace(resp.Summary) == ""},
	}
	var out []storage.Digest
	for _, s := range sections {
		if s.empty {
			continue
		}
		content, err := json.Marshal(s.content)
		if err != nil {
			return nil, fmt.Errorf("encoding %s digest: %w", s.typ, err)
		}
		d := base
		d.ID = uuid.New().String()
		d.Type = s.typ
		d.Content = content
		out = append(out, d)
	}
	return out, nil
}
