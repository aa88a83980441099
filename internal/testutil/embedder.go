// Package testutil provides shared testing utilities for the modsift
// project: a deterministic embedding provider, a pgvector test container,
// and quiet loggers.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// Embedder is a deterministic embed.Provider for tests. Each text maps to a
// fixed pseudo-random unit-scale vector derived from its hash, so identical
// texts embed identically (self-match at distance ~0) and different texts
// land far apart with high probability.
//
// FailFirst injects transient failures for retry tests: the first FailFirst
// calls to Embed return an error, subsequent calls succeed.
type Embedder struct {
	Dim       int
	FailFirst int

	mu    sync.Mutex
	calls int
}

// NewEmbedder creates a deterministic test embedder of the given dimension.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim}
}

// Embed implements embed.Provider.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls++
	failing := e.calls <= e.FailFirst
	e.mu.Unlock()
	if failing {
		return nil, fmt.Errorf("injected embedder failure")
	}

	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = Vector(t, e.Dim)
	}
	return vectors, nil
}

// Dimension implements embed.Provider.
func (e *Embedder) Dimension() int { return e.Dim }

// Calls reports how many Embed calls have been made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Vector derives the deterministic embedding for a text, matching what
// Embedder.Embed returns. Useful for asserting exact self-match queries.
func Vector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for d := 0; d < dim; d++ {
		// Stretch the 32-byte digest over arbitrary dimensions by
		// re-hashing per 8-dimension block.
		if d%8 == 0 && d > 0 {
			sum = sha256.Sum256(sum[:])
		}
		bits := binary.LittleEndian.Uint32(sum[(d%8)*4 : (d%8)*4+4])
		// Map to (-1, 1).
		vec[d] = float32(int32(bits)) / float32(1<<31)
	}
	return vec
}
