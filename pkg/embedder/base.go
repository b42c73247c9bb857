// Package embedder defines the embedding capability: text in, fixed-length
// vector out. Providers must be deterministic enough that caching by input
// text is sound.
package embedder

import "context"

// Provider converts text into vector embeddings.
type Provider interface {
	// Embed converts one text into its embedding vector.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts in one request, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the fixed vector length this provider produces.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}
