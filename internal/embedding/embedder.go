// Package embedding provides text embedding backends (ONNX, OpenAI-compatible HTTP, deterministic mock) and caching.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text. EmbedBatch preserves input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Accelerator is implemented by embedders that process a batch substantially faster than the
// same texts one at a time (remote or hardware-accelerated backends).
type Accelerator interface {
	Accelerated() bool
}

// IsAccelerated reports whether e prefers batched calls.
func IsAccelerated(e Embedder) bool {
	a, ok := e.(Accelerator)
	return ok && a.Accelerated()
}

func validateShape(dimensions, maxTokens int) error {
	if dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}
	if maxTokens < 2 {
		return fmt.Errorf("max tokens must be at least 2, got %d", maxTokens)
	}
	return nil
}
