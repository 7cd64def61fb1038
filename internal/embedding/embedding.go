// Package embedding defines the embedding capability consumed by ingestion
// and retrieval, and provides an Ollama-backed implementation.
//
// The contract is deliberately small: batch embedding for documents, single
// embedding for queries, and a fixed output dimension. Vectors are always
// L2-normalized so inner product equals cosine similarity downstream.
package embedding

import (
	"context"
	"math"
)

// Embedder converts text into fixed-dimension normalized vectors.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, preserving order.
	// An empty batch returns an empty result without a provider call.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed output dimension. It is constant for the
	// lifetime of the embedder and queried once at vector-store creation.
	Dimension() int
}

// Normalize scales v to unit L2 length in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
