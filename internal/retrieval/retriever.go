package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/metrics"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const (
	DefaultThreshold = 0.3
	DefaultLimit     = 5
)

// ErrEmptyQuery is returned for a blank query text.
var ErrEmptyQuery = errors.New("query text is empty")

// QueryEmbedder embeds a search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the part of storage.Store the retriever uses.
type Store interface {
	GetKnowledgeItems(ctx context.Context, ids []string) ([]storage.KnowledgeItem, error)
	IncrementUsage(ctx context.Context, ids []string, at time.Time) error
	InsertQueryLog(ctx context.Context, q storage.QueryLog) error
}

// Query is a scoped semantic search. Zero Threshold and Limit take the
// retriever defaults. Empty Scopes means every scope.
type Query struct {
	Text      string
	UserID    string
	Scopes    []brain.Scope
	ProjectID string
	RoleTag   string
	Threshold float64
	Limit     int
}

// Result is a retrieved item and its similarity to the query.
type Result struct {
	Item       storage.KnowledgeItem
	Similarity float64
}

// Response is the ranked results plus the id of the query log row, which
// callers use to submit feedback.
type Response struct {
	QueryID string
	Results []Result
}

// Retriever combines embedding and index search with visibility rules, usage
// accounting and query logging.
type Retriever struct {
	embedder  QueryEmbedder
	index     Index
	store     Store
	threshold float64
	limit     int
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Retriever)

func WithDefaults(threshold float64, limit int) Option {
	return func(r *Retriever) {
		if threshold > 0 {
			r.threshold = threshold
		}
		if limit > 0 {
			r.limit = limit
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Retriever) { r.now = now }
}

func NewRetriever(embedder QueryEmbedder, index Index, store Store, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:  embedder,
		index:     index,
		store:     store,
		threshold: DefaultThreshold,
		limit:     DefaultLimit,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Search embeds the query and returns visible items ranked by similarity.
// Every successful call writes one query log row, including zero-result
// searches, and bumps usage on every returned item.
func (r *Retriever) Search(ctx context.Context, q Query) (Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Response{}, ErrEmptyQuery
	}
	threshold := q.Threshold
	if threshold <= 0 {
		threshold = r.threshold
	}
	limit := q.Limit
	if limit <= 0 {
		limit = r.limit
	}

	vec, err := r.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return Response{}, fmt.Errorf("embedding query: %w", err)
	}

	now := r.now()
	vis := storage.Visibility{UserID: q.UserID, Scopes: q.Scopes, ProjectID: q.ProjectID, RoleTag: q.RoleTag, Now: now}
	hits, err := r.index.Search(ctx, vec, vis, limit, float32(threshold))
	if err != nil {
		return Response{}, fmt.Errorf("searching %s index: %w", r.index.Name(), err)
	}

	results, err := r.load(ctx, hits, vis)
	if err != nil {
		return Response{}, err
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.Item.ID
	}
	if len(ids) > 0 {
		if err := r.store.IncrementUsage(ctx, ids, now); err != nil {
			r.logger.Warn("incrementing usage failed", zap.Error(err))
		} else {
			for i := range results {
				results[i].Item.UsageCount++
				t := now
				results[i].Item.LastUsedAt = &t
			}
		}
	}

	entry := storage.QueryLog{
		ID:             uuid.New().String(),
		UserID:         q.UserID,
		QueryText:      q.Text,
		QueryEmbedding: vec,
		Scopes:         q.Scopes,
		ProjectID:      q.ProjectID,
		RoleTag:        q.RoleTag,
		Threshold:      threshold,
		RetrievedIDs:   ids,
		ResultCount:    len(results),
		CreatedAt:      now,
	}
	if len(results) > 0 {
		entry.TopSimilarity = results[0].Similarity
	}
	if err := r.store.InsertQueryLog(ctx, entry); err != nil {
		r.logger.Warn("writing query log failed", zap.Error(err))
		entry.ID = ""
	}

	outcome := "hit"
	if len(results) == 0 {
		outcome = "empty"
	}
	metrics.Retrievals.WithLabelValues(r.index.Name(), outcome).Inc()
	r.logger.Debug("knowledge search",
		zap.String("user_id", q.UserID),
		zap.Int("results", len(results)),
		zap.Float64("threshold", threshold),
	)

	return Response{QueryID: entry.ID, Results: results}, nil
}

// load fetches the hit rows and re-applies visibility against the stored
// state, so an index that lags behind the table can never widen access.
func (r *Retriever) load(ctx context.Context, hits []Hit, vis storage.Visibility) ([]Result, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	items, err := r.store.GetKnowledgeItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading retrieved items: %w", err)
	}
	byID := make(map[string]storage.KnowledgeItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		it, ok := byID[h.ID]
		if !ok || !vis.Allows(it) {
			continue
		}
		results = append(results, Result{Item: it, Similarity: float64(h.Similarity)})
	}
	return results, nil
}
