// Package retrieval finds the corpus examples most similar to an input
// transcript and decides which of them to feed into the prompt.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/teleprompt/autocue/internal/provider"
)

// embedConcurrency bounds parallel embedding calls so a batch reindex does
// not saturate the local model server.
const embedConcurrency = 4

// Embedder binds a provider's embedding endpoint to a fixed model name.
type Embedder struct {
	provider provider.Embedder
	model    string
}

// NewEmbedder creates an Embedder using the given model.
func NewEmbedder(p provider.Embedder, model string) *Embedder {
	return &Embedder{provider: p, model: model}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding with %s: %w", e.model, err)
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, preserving input order. A single
// failure aborts the batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
