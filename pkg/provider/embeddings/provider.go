// Package embeddings defines the text-embedding provider used by the
// transcript archive.
//
// A provider maps transcript text to a dense float32 vector in a fixed
// space; the archive stores the vector next to the transcript row and ranks
// semantic search results by distance. The surface is deliberately small
// because the archive only ever embeds one transcript per append and one
// query per search.
package embeddings

import "context"

// Provider turns text into a fixed-dimension embedding vector.
//
// All vectors from one Provider instance share the dimensionality reported
// by Dimensions. Vectors from different instances must not be compared
// unless model and vector space are known to match. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Embed computes the vector for one text. The text reaches the model
	// verbatim; any model-specific prefixing is the caller's concern.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the length of every vector this provider produces.
	// Zero means the dimension could not be determined.
	Dimensions() int
}
