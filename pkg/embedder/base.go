// Package embedder defines the Embedder trait consumed by the
// attribution kernel. The embedding model itself is an out-of-scope
// collaborator (spec.md §1); this package only names the interface and
// a normalizing helper shared by concrete providers.
package embedder

import (
	"context"

	"github.com/cortexlabs/cortex-engine-go/pkg/vector"
)

// Embedder produces unit-norm embedding vectors of a fixed dimension
// for a batch of texts.
type Embedder interface {
	// Embed returns one embedding per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed dimension d of vectors this embedder
	// produces.
	Dimensions() int

	// Close releases the embedder's resources.
	Close() error
}

// NormalizeBatch unit-normalizes every vector in vecs. Providers that
// do not already guarantee unit norm should route their output through
// this before returning it to callers.
func NormalizeBatch(vecs [][]float32) [][]float32 {
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = vector.Normalize(v)
	}
	return out
}
