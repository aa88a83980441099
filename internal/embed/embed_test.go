package embed

import (
	"context"
	"fmt"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// mockEmbedder is a canned ai.Embedder for testing the Genkit adapter.
type mockEmbedder struct {
	dim int
	err error
	// short makes the response drop the last embedding.
	short bool
	// narrow makes every vector one element shorter than dim.
	narrow bool
}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	n := len(req.Input)
	if m.short && n > 0 {
		n--
	}
	resp := &ai.EmbedResponse{Embeddings: make([]*ai.Embedding, n)}
	for i := 0; i < n; i++ {
		dim := m.dim
		if m.narrow {
			dim--
		}
		vec := make([]float32, dim)
		// Mark vectors with their position so order is checkable.
		vec[0] = float32(i + 1)
		resp.Embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return resp, nil
}

func (m *mockEmbedder) Name() string { return "mockEmbedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func TestNewGenkitValidation(t *testing.T) {
	if _, err := NewGenkit(nil, Config{Dimension: 4}); err == nil {
		t.Error("NewGenkit(nil embedder) expected error")
	}
	if _, err := NewGenkit(&mockEmbedder{dim: 4}, Config{Dimension: 0}); err == nil {
		t.Error("NewGenkit(zero dimension) expected error")
	}
	if _, err := NewGenkit(&mockEmbedder{dim: 4}, Config{Dimension: 4}); err != nil {
		t.Errorf("NewGenkit() error = %v", err)
	}
}

func TestGenkitEmbed(t *testing.T) {
	p, err := NewGenkit(&mockEmbedder{dim: 3}, Config{Dimension: 3})
	if err != nil {
		t.Fatalf("NewGenkit() error = %v", err)
	}

	vectors, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("Embed() returned %d vectors, want 3", len(vectors))
	}
	for i, v := range vectors {
		if len(v) != 3 {
			t.Errorf("vector %d has %d elements, want 3", i, len(v))
		}
		if v[0] != float32(i+1) {
			t.Errorf("vector %d marker = %v, want %v (input order not preserved)", i, v[0], i+1)
		}
	}
}

func TestGenkitEmbedEmptyInput(t *testing.T) {
	p, err := NewGenkit(&mockEmbedder{dim: 3}, Config{Dimension: 3})
	if err != nil {
		t.Fatalf("NewGenkit() error = %v", err)
	}
	vectors, err := p.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil) error = %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("Embed(nil) returned %d vectors, want 0", len(vectors))
	}
}

func TestGenkitEmbedRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name string
		mock *mockEmbedder
	}{
		{"upstream error", &mockEmbedder{dim: 3, err: fmt.Errorf("quota exhausted")}},
		{"count mismatch", &mockEmbedder{dim: 3, short: true}},
		{"dimension mismatch", &mockEmbedder{dim: 3, narrow: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewGenkit(tt.mock, Config{Dimension: 3})
			if err != nil {
				t.Fatalf("NewGenkit() error = %v", err)
			}
			if _, err := p.Embed(context.Background(), []string{"a", "b"}); err == nil {
				t.Error("Embed() expected error, got nil")
			}
		})
	}
}

func TestGenkitDimension(t *testing.T) {
	p, err := NewGenkit(&mockEmbedder{dim: 7}, Config{Dimension: 7})
	if err != nil {
		t.Fatalf("NewGenkit() error = %v", err)
	}
	if p.Dimension() != 7 {
		t.Errorf("Dimension() = %d, want 7", p.Dimension())
	}
}
