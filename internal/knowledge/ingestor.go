package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/metrics"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const (
	DefaultStaleAfter   = 10 * time.Minute
	DefaultReembedLimit = 50
	DefaultBatchLimit   = 20

	batchConcurrency = 4
)

// ErrNotExecuted is returned when ingesting an action that has not executed.
var ErrNotExecuted = errors.New("action is not executed")

// ErrMissingReviewID is returned for a review without an id.
var ErrMissingReviewID = errors.New("review id is required")

// Store is the part of storage.Store the ingestor uses.
type Store interface {
	ClaimExtraction(ctx context.Context, st brain.SourceType, sourceID string, staleBefore time.Time) (bool, storage.ExtractionLog, error)
	CompleteExtraction(ctx context.Context, st brain.SourceType, sourceID string, items int) error
	FailExtraction(ctx context.Context, st brain.SourceType, sourceID string, cause error) error
	InsertKnowledgeItem(ctx context.Context, it storage.KnowledgeItem) error
	GetDigest(ctx context.Context, id string) (storage.Digest, error)
	GetAction(ctx context.Context, id string) (storage.Action, error)
	ListUnprocessedDigests(ctx context.Context, limit int, staleBefore time.Time) ([]storage.Digest, error)
	ListItemsNeedingEmbedding(ctx context.Context, model string, limit int) ([]storage.KnowledgeItem, error)
	UpdateEmbedding(ctx context.Context, id string, vec []float32, model string) error
}

// Embedder generates item embeddings. retrieval.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Outcome reports one source ingestion. Skipped is true when the extraction
// log already covered the source; Status then holds the existing log status.
// ItemsCreated counts retrievable items only. Unembedded items are stored
// without a vector and become retrievable after a reembed; ItemIDs lists both.
type Outcome struct {
	SourceType   brain.SourceType `json:"sourceType"`
	SourceID     string           `json:"sourceId"`
	ItemsCreated int              `json:"itemsCreated"`
	Unembedded   int              `json:"unembedded"`
	Failed       int              `json:"failed"`
	ItemIDs      []string         `json:"itemIds,omitempty"`
	Skipped      bool             `json:"skipped"`
	Status       string           `json:"status"`
}

// BatchResult aggregates a batchProcess run.
type BatchResult struct {
	Processed    int       `json:"processed"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	ItemsCreated int       `json:"itemsCreated"`
	Outcomes     []Outcome `json:"outcomes"`
}

// ReembedResult reports a reembed run.
type ReembedResult struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// Ingestor runs sources through the extractor, embeds the drafts and stores
// them. The extraction log guarantees each source is ingested once.
type Ingestor struct {
	store      Store
	extractor  *Extractor
	embedder   Embedder
	index      retrieval.Index
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

type IngestorOption func(*Ingestor)

func WithStaleAfter(d time.Duration) IngestorOption {
	return func(in *Ingestor) {
		if d > 0 {
			in.staleAfter = d
		}
	}
}

func WithIngestLogger(l *zap.Logger) IngestorOption {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

func WithIngestClock(now func() time.Time) IngestorOption {
	return func(in *Ingestor) { in.now = now }
}

// NewIngestor wires an ingestor. index receives every embedded item so
// in-memory backends stay current; pass nil when the table is the index.
func NewIngestor(store Store, extractor *Extractor, embedder Embedder, index retrieval.Index, opts ...IngestorOption) *Ingestor {
	in := &Ingestor{
		store:      store,
		extractor:  extractor,
		embedder:   embedder,
		index:      index,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// IngestDigest extracts knowledge from a stored digest.
func (in *Ingestor) IngestDigest(ctx context.Context, digestID string) (Outcome, error) {
	return in.ingestDigest(ctx, digestID, time.Time{})
}

func (in *Ingestor) ingestDigest(ctx context.Context, digestID string, staleBefore time.Time) (Outcome, error) {
	return in.ingest(ctx, brain.SourceDigest, digestID, staleBefore, func(ctx context.Context) ([]Draft, error) {
		d, err := in.store.GetDigest(ctx, digestID)
		if err != nil {
			return nil, fmt.Errorf("loading digest %s: %w", digestID, err)
		}
		return in.extractor.FromDigest(ctx, d)
	})
}

// IngestAction extracts knowledge from an executed action.
func (in *Ingestor) IngestAction(ctx context.Context, actionID string) (Outcome, error) {
	a, err := in.store.GetAction(ctx, actionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading action %s: %w", actionID, err)
	}
	if a.Status != brain.StatusExecuted {
		return Outcome{}, fmt.Errorf("action %s is %s: %w", actionID, a.Status, ErrNotExecuted)
	}
	return in.ingest(ctx, brain.SourceAction, actionID, time.Time{}, func(context.Context) ([]Draft, error) {
		return in.extractor.FromAction(a)
	})
}

// IngestReview extracts knowledge from a peer review. The review id is the
// source id, so resending a review is a no-op.
func (in *Ingestor) IngestReview(ctx context.Context, r Review) (Outcome, error) {
	if r.ID == "" {
		return Outcome{}, ErrMissingReviewID
	}
	return in.ingest(ctx, brain.SourceReview, r.ID, time.Time{}, func(context.Context) ([]Draft, error) {
		return in.extractor.FromReview(r)
	})
}

// BatchProcess ingests the oldest unprocessed digests, reclaiming those whose
// processing row is older than the staleness window. Sources run in
// parallel; a failing source is counted and never aborts the others.
func (in *Ingestor) BatchProcess(ctx context.Context, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	staleBefore := in.now().Add(-in.staleAfter)
	digests, err := in.store.ListUnprocessedDigests(ctx, limit, staleBefore)
	if err != nil {
		return BatchResult{}, err
	}

	outcomes := make([]Outcome, len(digests))
	var mu sync.Mutex
	var res BatchResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, d := range digests {
		g.Go(func() error {
			out, err := in.ingestDigest(gctx, d.ID, staleBefore)
			mu.Lock()
			defer mu.Unlock()
			outcomes[i] = out
			switch {
			case err != nil:
				res.Failed++
				in.logger.Warn("batch ingest failed", zap.String("digest_id", d.ID), zap.Error(err))
			case out.Skipped:
				res.Skipped++
			default:
				res.Processed++
				res.ItemsCreated += out.ItemsCreated
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.Outcomes = outcomes
	return res, ctx.Err()
}

// Reembed backfills embeddings for active items that have none or were
// embedded by another model.
func (in *Ingestor) Reembed(ctx context.Context, limit int) (ReembedResult, error) {
	if limit <= 0 {
		limit = DefaultReembedLimit
	}
	model := in.embedder.Model()
	items, err := in.store.ListItemsNeedingEmbedding(ctx, model, limit)
	if err != nil {
		return ReembedResult{}, err
	}

	var res ReembedResult
	for _, it := range items {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++
		vec, err := in.embedder.Embed(ctx, embeddingText(it.Content, it.Summary))
		if err != nil {
			res.Failed++
			in.logger.Warn("reembed failed", zap.String("item_id", it.ID), zap.Error(err))
			continue
		}
		if err := in.store.UpdateEmbedding(ctx, it.ID, vec, model); err != nil {
			res.Failed++
			in.logger.Warn("storing embedding failed", zap.String("item_id", it.ID), zap.Error(err))
			continue
		}
		it.Embedding, it.EmbeddingModel = vec, model
		in.upsertIndex(ctx, it)
		res.Updated++
	}
	return res, nil
}

// ingest claims the source in the extraction log and always settles the
// row before returning: completed with the item count, or failed.
func (in *Ingestor) ingest(ctx context.Context, st brain.SourceType, sourceID string, staleBefore time.Time,
	drafts func(context.Context) ([]Draft, error)) (out Outcome, err error) {
	out = Outcome{SourceType: st, SourceID: sourceID}

	claimed, existing, err := in.store.ClaimExtraction(ctx, st, sourceID, staleBefore)
	if err != nil {
		return out, fmt.Errorf("claiming %s %s: %w", st, sourceID, err)
	}
	if !claimed {
		out.Skipped = true
		out.Status = existing.Status
		return out, nil
	}

	defer func() {
		// Settle even if the caller's context is gone.
		sctx := context.WithoutCancel(ctx)
		if r := recover(); r != nil {
			_ = in.store.FailExtraction(sctx, st, sourceID, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		if err != nil {
			out.Status = storage.ExtractionFailed
			if ferr := in.store.FailExtraction(sctx, st, sourceID, err); ferr != nil {
				in.logger.Error("marking extraction failed", zap.String("source_id", sourceID), zap.Error(ferr))
			}
			return
		}
		out.Status = storage.ExtractionCompleted
		if cerr := in.store.CompleteExtraction(sctx, st, sourceID, out.ItemsCreated+out.Unembedded); cerr != nil {
			err = fmt.Errorf("completing extraction log: %w", cerr)
			out.Status = storage.ExtractionProcessing
		}
	}()

	ds, err := drafts(ctx)
	if err != nil {
		return out, err
	}

	for _, d := range ds {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		it, embedded := in.build(ctx, st, sourceID, d)
		if err := in.store.InsertKnowledgeItem(ctx, it); err != nil {
			out.Failed++
			metrics.KnowledgeItemsSkipped.WithLabelValues("insert").Inc()
			in.logger.Warn("inserting knowledge item failed",
				zap.String("source_type", string(st)), zap.String("source_id", sourceID), zap.Error(err))
			continue
		}
		out.ItemIDs = append(out.ItemIDs, it.ID)
		if !embedded {
			out.Unembedded++
			continue
		}
		in.upsertIndex(ctx, it)
		out.ItemsCreated++
		metrics.KnowledgeItemsCreated.WithLabelValues(string(st)).Inc()
	}

	in.logger.Info("knowledge ingested",
		zap.String("source_type", string(st)),
		zap.String("source_id", sourceID),
		zap.Int("items", out.ItemsCreated),
		zap.Int("unembedded", out.Unembedded),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

// build turns a draft into an item and embeds it. An embedding failure is
// logged and the item is kept without a vector for a later reembed.
func (in *Ingestor) build(ctx context.Context, st brain.SourceType, sourceID string, d Draft) (storage.KnowledgeItem, bool) {
	now := in.now().UTC()
	it := storage.KnowledgeItem{
		ID:         uuid.New().String(),
		UserID:     d.UserID,
		ProjectID:  d.ProjectID,
		Scope:      d.Scope,
		Content:    d.Content,
		Summary:    d.Summary,
		Type:       d.Type,
		SourceType: st,
		SourceID:   sourceID,
		RoleTag:    d.RoleTag,
		Confidence: d.Confidence,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	vec, err := in.embedder.Embed(ctx, embeddingText(d.Content, d.Summary))
	if err != nil {
		metrics.KnowledgeItemsSkipped.WithLabelValues("embed").Inc()
		in.logger.Warn("embedding knowledge item failed",
			zap.String("source_id", sourceID), zap.String("item_id", it.ID), zap.Error(err))
		return it, false
	}
	it.Embedding = vec
	it.EmbeddingModel = in.embedder.Model()
	return it, true
}

func (in *Ingestor) upsertIndex(ctx context.Context, it storage.KnowledgeItem) {
	if in.index == nil {
		return
	}
	if err := in.index.Upsert(ctx, it); err != nil {
		in.logger.Warn("updating search index failed", zap.String("item_id", it.ID), zap.Error(err))
	}
}

func embeddingText(content, summary string) string {
	if summary == "" {
		return content
	}
	return content + "\n" + summary
}
