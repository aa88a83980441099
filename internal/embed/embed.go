// Package embed turns text into fixed-length float vectors.
//
// The core consumes the Provider interface; the production implementation
// wraps a Genkit ai.Embedder (Google AI by default). Batch calls are
// one-to-one and order-preserving: a call that fails returns an error, never
// partial or empty vectors.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"
)

// Provider converts text batches to embedding vectors.
//
// Implementations must return exactly one vector per input text, in input
// order, each of length Dimension. A batch that fails entirely returns an
// error; partial results are never returned.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config tunes the Genkit-backed provider.
type Config struct {
	// Model is the embedder model name (e.g. "gemini-embedding-001").
	Model string

	// Dimension is the expected output dimensionality. Responses with a
	// different length are rejected.
	Dimension int

	// RequestsPerSecond throttles outbound embed calls. Zero disables
	// throttling.
	RequestsPerSecond float64

	// Logger for diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// Genkit adapts a Genkit ai.Embedder to the Provider interface.
type Genkit struct {
	embedder ai.Embedder
	dim      int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewGenkit wraps an already-initialized Genkit embedder.
func NewGenkit(embedder ai.Embedder, cfg Config) (*Genkit, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder must not be nil")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dimension)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Genkit{
		embedder: embedder,
		dim:      cfg.Dimension,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// InitGoogleAI initializes Genkit with the Google AI plugin and returns a
// Provider for the configured embedder model.
//
// Requires GEMINI_API_KEY in the environment (read by the plugin directly).
func InitGoogleAI(ctx context.Context, cfg Config) (*Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	embedder := googlegenai.GoogleAIEmbedder(g, cfg.Model)
	if embedder == nil {
		return nil, fmt.Errorf("unknown embedder model %q", cfg.Model)
	}
	return NewGenkit(embedder, cfg)
}

// Embed implements Provider.
func (p *Genkit) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts",
			len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != p.dim {
			return nil, fmt.Errorf("embedder returned %d-dimensional vector for text %d, want %d",
				len(e.Embedding), i, p.dim)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// Dimension implements Provider.
func (p *Genkit) Dimension() int { return p.dim }
