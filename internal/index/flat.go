package index

import "fmt"

// Flat is an exact brute-force cosine index. Every query scans all vectors,
// which is fine for the small stores the moderation pipeline typically builds
// (a few thousand labeled examples).
type Flat struct {
	dim     int
	vectors [][]float32
}

// NewFlat builds an exact index over the given ordered vectors. All vectors
// must share the same dimensionality; the first vector fixes it when dim is
// not known up front.
//
// The vectors slice is retained, not copied. Callers must not mutate it after
// the index is built.
func NewFlat(dim int, vectors [][]float32) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return &Flat{dim: dim, vectors: vectors}, nil
}

// Search implements Index.
func (f *Flat) Search(query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(query, f.dim); err != nil {
		return nil, err
	}
	if topK <= 0 || len(f.vectors) == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = Hit{ID: i, Distance: CosineDistance(query, v)}
	}
	return rankHits(hits, topK), nil
}

// SearchSubset ranks only the vectors whose IDs appear in candidates.
// Used for category pre-filtered queries: the caller narrows candidates by
// metadata first, then ranking happens within that subset.
func (f *Flat) SearchSubset(query []float32, topK int, candidates []int) ([]Hit, error) {
	if err := validateQuery(query, f.dim); err != nil {
		return nil, err
	}
	if topK <= 0 || len(candidates) == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(candidates))
	for _, id := range candidates {
		if id < 0 || id >= len(f.vectors) {
			return nil, fmt.Errorf("candidate id %d out of range [0, %d)", id, len(f.vectors))
		}
		hits = append(hits, Hit{ID: id, Distance: CosineDistance(query, f.vectors[id])})
	}
	return rankHits(hits, topK), nil
}

// Len implements Index.
func (f *Flat) Len() int { return len(f.vectors) }

// Dimension implements Index.
func (f *Flat) Dimension() int { return f.dim }

// Vectors exposes the underlying ordered vectors for persistence.
// The returned slice must be treated as read-only.
func (f *Flat) Vectors() [][]float32 { return f.vectors }
