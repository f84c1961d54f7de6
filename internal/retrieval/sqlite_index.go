package retrieval

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

var _ Index = (*SQLiteIndex)(nil)

// embeddingScanner is the part of storage.Store the SQLite backend needs.
type embeddingScanner interface {
	ScanVisibleEmbeddings(ctx context.Context, v storage.Visibility, fn func(id string, vec []float32) error) error
}

// SQLiteIndex is brute-force cosine similarity over the knowledge table.
// It is the default backend; the table is the index, so Upsert and Remove
// are no-ops.
//
// When the item count grows to where scan latency is noticeable, switch the
// retrieval backend to chromem.
type SQLiteIndex struct {
	store embeddingScanner
}

func NewSQLiteIndex(store embeddingScanner) *SQLiteIndex {
	return &SQLiteIndex{store: store}
}

func (s *SQLiteIndex) Name() string { return "sqlite" }

func (s *SQLiteIndex) Upsert(context.Context, storage.KnowledgeItem) error { return nil }

func (s *SQLiteIndex) Remove(context.Context, string) error { return nil }

// Search scans only id and embedding of visible rows, keeping the top-K in a
// min-heap.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, v storage.Visibility, topK int, threshold float32) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &hitHeap{}
	heap.Init(h)
	err := s.store.ScanVisibleEmbeddings(ctx, v, func(id string, vec []float32) error {
		score := cosine(vector, vec, queryNorm)
		if score < threshold {
			return nil
		}
		if h.Len() < topK {
			heap.Push(h, Hit{ID: id, Similarity: score})
		} else if score > (*h)[0].Similarity {
			(*h)[0] = Hit{ID: id, Similarity: score}
			heap.Fix(h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}

	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(h).(Hit)
	}
	return hits, nil
}

// sortHits orders hits by similarity descending, then id for stability.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). Vectors of different length
// (embedded by another model) score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// hitHeap is a min-heap of hits ordered by similarity.
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return h[i].Similarity < h[j].Similarity }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
