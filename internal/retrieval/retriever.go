// Package retrieval ranks corpus clauses by cosine similarity to a query embedding.
package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/hyperjump/hantei/internal/corpus"
	"github.com/hyperjump/hantei/internal/models"
)

// Retriever performs brute-force cosine ranking over a corpus snapshot. The
// corpus is small (hundreds of clauses), so exhaustive scoring is both fast
// and exactly reproducible.
type Retriever struct {
	similarityFloor float64
}

// NewRetriever creates a retriever. similarityFloor drops candidates scoring
// below it; the design default is 0, making every clause a candidate.
func NewRetriever(similarityFloor float64) *Retriever {
	return &Retriever{similarityFloor: similarityFloor}
}

// Retrieve returns up to k clauses from snap ranked by descending cosine
// similarity to queryVec, ties broken by lexical clause ID so results are
// reproducible. An empty result is a valid outcome (empty corpus, or nothing
// above the floor), never an error.
func (r *Retriever) Retrieve(ctx context.Context, queryVec []float32, snap *corpus.Snapshot, k int) ([]models.RetrievedClause, error) {
	if k <= 0 || snap.Len() == 0 {
		return nil, nil
	}

	clauses := snap.Clauses()
	scored := make([]models.RetrievedClause, 0, len(clauses))
	for i := range clauses {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sim := CosineSimilarity(queryVec, clauses[i].Embedding)
		if sim < r.similarityFloor {
			continue
		}
		scored = append(scored, models.RetrievedClause{Clause: clauses[i], Similarity: sim})
	}

	// Stable order: similarity descending, then clause ID ascending. The input
	// is already ID-sorted, so equal similarities keep lexical ID order under
	// a stable sort and the ranking is prefix-consistent for any k.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// CosineSimilarity returns the cosine similarity between two vectors, clamped
// to [0, 1]. Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, math.Min(1, sim))
}
