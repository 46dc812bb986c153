package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Engine is the single capability the embedding client needs from the
// local inference engine.
type Engine interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Client turns text into fixed-length vectors by calling the embedding
// model on the local engine. The coordinator is agnostic to model identity;
// all vectors within one collection must share dimensionality, which the
// vector store enforces on upsert.
type Client struct {
	engine Engine
	model  string
}

// NewClient creates a Client using the given engine and embedding model name.
func NewClient(engine Engine, model string) *Client {
	return &Client{engine: engine, model: model}
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.engine.Embed(ctx, c.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.engine.Embed(gCtx, c.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
