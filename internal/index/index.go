// Package index implements cosine-distance nearest-neighbor search over
// fixed-dimension embedding vectors.
//
// Two implementations are provided behind the Index interface:
//   - Flat: exact brute-force search, used for small stores
//   - IVF: inverted-file approximate search (k-means partitions), used when
//     the store grows past a configurable threshold
//
// Both rank by ascending cosine distance and break ties by insertion order,
// so swapping one for the other does not change observable semantics beyond
// the IVF recall tolerance.
//
// An index is immutable once built and safe for concurrent queries.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch indicates a vector's dimensionality differs from the
// index's configured dimensionality. Fatal for that operation only.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// MaxCosineDistance is the distance assigned when similarity is undefined
// (zero-magnitude vector). Cosine distance ranges over [0, 2]; 2 means
// maximally dissimilar.
const MaxCosineDistance float32 = 2.0

// Hit is a single nearest-neighbor result. ID is the insertion position of
// the matched vector.
type Hit struct {
	ID       int
	Distance float32
}

// Index is a read-only nearest-neighbor structure over embeddings.
type Index interface {
	// Search returns up to topK hits ordered by ascending cosine distance,
	// ties broken by insertion order. topK larger than Len returns all
	// vectors. An empty index returns an empty slice, not an error.
	// Returns ErrDimensionMismatch if query length differs from Dimension.
	Search(query []float32, topK int) ([]Hit, error)

	// Len reports the number of indexed vectors.
	Len() int

	// Dimension reports the vector dimensionality of the index.
	Dimension() int
}

// SubsetIndex is an Index that can additionally rank within an explicit
// candidate set. The store uses it for category pre-filtered queries.
type SubsetIndex interface {
	Index
	// SearchSubset ranks only the vectors whose IDs appear in candidates.
	SearchSubset(query []float32, topK int, candidates []int) ([]Hit, error)
}

// DefaultFlatThreshold is the record count at or below which Build picks the
// exact flat index over IVF.
const DefaultFlatThreshold = 2000

// BuildOptions controls index construction in Build.
type BuildOptions struct {
	// FlatThreshold overrides DefaultFlatThreshold when positive.
	FlatThreshold int

	// IVF tunes the approximate index when it is selected.
	IVF IVFParams
}

// Build constructs an index over the ordered vectors, choosing exact search
// for small inputs and IVF above the threshold. The choice is an internal
// optimization; ranking semantics match brute-force cosine within the IVF
// recall tolerance.
func Build(dim int, vectors [][]float32, opts BuildOptions) (SubsetIndex, error) {
	threshold := opts.FlatThreshold
	if threshold <= 0 {
		threshold = DefaultFlatThreshold
	}
	if len(vectors) <= threshold {
		return NewFlat(dim, vectors)
	}
	return NewIVF(dim, vectors, opts.IVF)
}

// CosineDistance computes 1 - cosine similarity on raw (non-normalized)
// vectors. A zero-magnitude operand yields MaxCosineDistance rather than a
// division error. Both vectors must have equal length; callers validate.
func CosineDistance(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return MaxCosineDistance
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Guard against floating-point drift outside [-1, 1].
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return float32(1 - sim)
}

// validateQuery checks query dimensionality against the index.
func validateQuery(query []float32, dim int) error {
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d dimensions, index has %d",
			ErrDimensionMismatch, len(query), dim)
	}
	return nil
}

// rankHits sorts hits by ascending distance, insertion order on ties, and
// truncates to topK.
func rankHits(hits []Hit, topK int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits
}
