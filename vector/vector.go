// Package vector defines embedding storage for retrieval of exemplars,
// field paths and knowledge passages.
package vector

import (
	"context"
	"math"
)

// Embedding is a stored text with its vector.
type Embedding struct {
	ID     string
	Vector []float32
	Text   string
}

// Match is an embedding returned by a search together with its similarity
// to the query vector.
type Match struct {
	*Embedding
	Score float32
}

// Store defines vector storage and similarity search.
type Store interface {
	// Add inserts or replaces an embedding by ID.
	Add(ctx context.Context, embedding *Embedding) error

	// Search returns up to topK embeddings ordered by descending similarity.
	Search(ctx context.Context, queryVector []float32, topK int) ([]Match, error)

	// Has reports which of ids are already stored.
	Has(ctx context.Context, ids []string) (map[string]bool, error)

	// Count returns the number of embeddings.
	Count(ctx context.Context) (int, error)
}

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to embeddings
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Vectors of different length or zero norm score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
