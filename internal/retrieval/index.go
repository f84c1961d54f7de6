package retrieval

import (
	"context"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// Index finds the nearest visible knowledge items to a query vector.
//
// Two backends exist: SQLiteIndex scans the knowledge table directly and
// ChromemIndex keeps an in-memory chromem-go collection in sync with it.
// Both apply storage.Visibility, so scope isolation does not depend on the
// backend chosen.
type Index interface {
	// Search returns at most topK hits with similarity >= threshold, best first.
	Search(ctx context.Context, vector []float32, v storage.Visibility, topK int, threshold float32) ([]Hit, error)

	// Upsert makes the index reflect it. Items that are not retrievable are removed.
	Upsert(ctx context.Context, it storage.KnowledgeItem) error

	// Remove drops an item from the index.
	Remove(ctx context.Context, id string) error

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Hit is an item id with its cosine similarity to the query.
type Hit struct {
	ID         string
	Similarity float32
}
