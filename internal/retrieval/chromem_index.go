package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

var _ Index = (*ChromemIndex)(nil)

const chromemCollection = "knowledge"

// Metadata keys stored with each chromem document.
const (
	metaScope     = "scope"
	metaUserID    = "user_id"
	metaProjectID = "project_id"
	metaRoleTag   = "role_tag"
	metaExpiresAt = "expires_at"
	metaModel     = "embedding_model"
)

// ChromemIndex keeps retrievable items in an in-memory chromem-go
// collection. chromem's where filter only supports equality, so visibility
// is applied to the candidates after the similarity query.
//
// chromem fails a whole query when one document's vector length differs
// from the query's, so the index only holds vectors from model (when set)
// and of a single dimension.
type ChromemIndex struct {
	model  string
	logger *zap.Logger

	// mu keeps Count and QueryEmbedding consistent with concurrent writes.
	mu   sync.RWMutex
	coll *chromem.Collection
	dim  int
}

// NewChromemIndex creates an empty index for vectors produced by model. An
// empty model accepts any model. Vectors are always supplied by the caller;
// the collection never embeds text itself.
func NewChromemIndex(model string, logger *zap.Logger) (*ChromemIndex, error) {
	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(chromemCollection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errors.New("chromem index: embeddings are computed by the caller")
	})
	if err != nil {
		return nil, fmt.Errorf("creating chromem collection: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemIndex{model: model, coll: coll, logger: logger}, nil
}

func (c *ChromemIndex) Name() string { return "chromem" }

// Load upserts every item, typically the result of storage.ListEmbeddedItems
// at startup.
func (c *ChromemIndex) Load(ctx context.Context, items []storage.KnowledgeItem) error {
	for _, it := range items {
		if err := c.Upsert(ctx, it); err != nil {
			return err
		}
	}
	c.mu.RLock()
	n := c.coll.Count()
	c.mu.RUnlock()
	c.logger.Info("chromem index loaded", zap.Int("documents", n))
	return nil
}

// Upsert adds or replaces an item. Inactive items, items without an
// embedding and items whose vector cannot be compared with the rest are
// removed instead; the latter wait for a reembed.
func (c *ChromemIndex) Upsert(ctx context.Context, it storage.KnowledgeItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !it.IsActive || len(it.Embedding) == 0 {
		return c.remove(ctx, it.ID)
	}
	if c.model != "" && it.EmbeddingModel != c.model {
		c.logger.Debug("skipping item from another embedding model",
			zap.String("item_id", it.ID), zap.String("model", it.EmbeddingModel))
		return c.remove(ctx, it.ID)
	}
	if c.coll.Count() == 0 {
		c.dim = 0
	}
	if c.dim != 0 && len(it.Embedding) != c.dim {
		c.logger.Warn("skipping item with mismatched embedding dimension",
			zap.String("item_id", it.ID), zap.Int("dim", len(it.Embedding)), zap.Int("want", c.dim))
		return c.remove(ctx, it.ID)
	}

	meta := map[string]string{
		metaScope:     string(it.Scope),
		metaUserID:    it.UserID,
		metaProjectID: it.ProjectID,
		metaRoleTag:   it.RoleTag,
		metaModel:     it.EmbeddingModel,
	}
	if it.ExpiresAt != nil {
		meta[metaExpiresAt] = it.ExpiresAt.UTC().Format(time.RFC3339)
	}
	// chromem normalizes the stored copy; keep the caller's slice intact.
	vec := append([]float32(nil), it.Embedding...)
	if err := c.coll.AddDocument(ctx, chromem.Document{
		ID:        it.ID,
		Metadata:  meta,
		Embedding: vec,
		Content:   it.Content,
	}); err != nil {
		return fmt.Errorf("adding %s to chromem: %w", it.ID, err)
	}
	c.dim = len(vec)
	return nil
}

func (c *ChromemIndex) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(ctx, id)
}

func (c *ChromemIndex) remove(ctx context.Context, id string) error {
	if err := c.coll.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("removing %s from chromem: %w", id, err)
	}
	return nil
}

func (c *ChromemIndex) Search(ctx context.Context, vector []float32, v storage.Visibility, topK int, threshold float32) ([]Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.coll.Count()
	if n == 0 || topK <= 0 || norm(vector) == 0 || len(vector) != c.dim {
		return nil, nil
	}
	// Visibility is applied afterwards, so every document is a candidate.
	results, err := c.coll.QueryEmbedding(ctx, append([]float32(nil), vector...), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	hits := make([]Hit, 0, topK)
	for _, r := range results {
		if r.Similarity < threshold || !v.Allows(itemFromMetadata(r)) {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Similarity: r.Similarity})
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func itemFromMetadata(r chromem.Result) storage.KnowledgeItem {
	it := storage.KnowledgeItem{
		ID:        r.ID,
		Scope:     brain.Scope(r.Metadata[metaScope]),
		UserID:    r.Metadata[metaUserID],
		ProjectID: r.Metadata[metaProjectID],
		RoleTag:   r.Metadata[metaRoleTag],
		IsActive:  true,
		Embedding: r.Embedding,
	}
	if s := r.Metadata[metaExpiresAt]; s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			it.ExpiresAt = &t
		}
	}
	return it
}
