package interfaces

import (
	"context"
)

// EmbeddingClient is the raw vector API boundary. The service layer owns
// batching, retries, rate limiting, and caching; the client only converses
// with the provider.
type EmbeddingClient interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// EmbeddingService embeds a version's spans into chunks.
type EmbeddingService interface {
	// EmbedVersion embeds the version's embeddable spans that have no chunk
	// yet. Spans already covered by a chunk keep their vectors; re-embedding
	// happens by deleting the chunk set first. Returns the total chunk count
	// for the version.
	EmbedVersion(ctx context.Context, tenantID, versionID string) (int, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}
