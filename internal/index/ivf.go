package index

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// IVF is an inverted-file approximate cosine index. Vectors are partitioned
// into nlist clusters via k-means; a query ranks the nprobe nearest
// partitions and brute-forces only their members.
//
// Probing expands past nprobe when the probed partitions hold fewer than topK
// vectors, so a topK covering the whole store always returns every vector.
type IVF struct {
	dim       int
	nprobe    int
	vectors   [][]float32
	centroids [][]float32
	// lists[c] holds the insertion IDs assigned to centroid c, ascending.
	lists [][]int
}

// IVFParams tunes index construction. Zero values select defaults.
// These are performance knobs; they do not change ranking semantics beyond
// the approximate path's recall.
type IVFParams struct {
	// NList is the number of k-means partitions.
	// Default: sqrt(n) clamped to [1, 256].
	NList int

	// NProbe is the number of partitions scanned per query. Default: 8.
	NProbe int

	// Iterations bounds the k-means refinement loop. Default: 10.
	Iterations int

	// Seed makes centroid initialization deterministic. Default: 1.
	Seed int64
}

const (
	defaultNProbe     = 8
	defaultIterations = 10
	maxNList          = 256
)

func (p IVFParams) withDefaults(n int) IVFParams {
	if p.NList <= 0 {
		p.NList = int(math.Sqrt(float64(n)))
	}
	if p.NList < 1 {
		p.NList = 1
	}
	if p.NList > maxNList {
		p.NList = maxNList
	}
	if p.NList > n {
		p.NList = n
	}
	if p.NProbe <= 0 {
		p.NProbe = defaultNProbe
	}
	if p.Iterations <= 0 {
		p.Iterations = defaultIterations
	}
	if p.Seed == 0 {
		p.Seed = 1
	}
	return p
}

// NewIVF builds an approximate index over the given ordered vectors.
// The vectors slice is retained, not copied.
func NewIVF(dim int, vectors [][]float32, params IVFParams) (*IVF, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(v), dim)
		}
	}
	if len(vectors) == 0 {
		return &IVF{dim: dim, nprobe: defaultNProbe}, nil
	}

	params = params.withDefaults(len(vectors))
	centroids, lists := cluster(vectors, params)

	return &IVF{
		dim:       dim,
		nprobe:    params.NProbe,
		vectors:   vectors,
		centroids: centroids,
		lists:     lists,
	}, nil
}

// cluster runs bounded k-means with deterministic seeding and returns the
// final centroids plus per-centroid member lists.
func cluster(vectors [][]float32, params IVFParams) ([][]float32, [][]int) {
	n := len(vectors)
	dim := len(vectors[0])
	k := params.NList

	// Seed centroids from a deterministic shuffle of the input.
	rng := rand.New(rand.NewSource(params.Seed))
	perm := rng.Perm(n)
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32(nil), vectors[perm[i]]...)
	}

	assign := make([]int, n)
	for iter := 0; iter < params.Iterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		recomputeCentroids(vectors, assign, centroids, dim)
	}

	lists := make([][]int, k)
	for i := range vectors {
		c := assign[i]
		lists[c] = append(lists[c], i) // ascending: i increases monotonically
	}
	return centroids, lists
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestDist := CosineDistance(v, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := CosineDistance(v, centroids[c]); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func recomputeCentroids(vectors [][]float32, assign []int, centroids [][]float32, dim int) {
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range centroids {
		sums[c] = make([]float64, dim)
	}
	for i, v := range vectors {
		c := assign[i]
		counts[c]++
		for d := 0; d < dim; d++ {
			sums[c][d] += float64(v[d])
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue // keep the old centroid for empty partitions
		}
		for d := 0; d < dim; d++ {
			centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
		}
	}
}

// Search implements Index. Probing expands past nprobe until topK candidates
// are available or every partition has been scanned.
func (ivf *IVF) Search(query []float32, topK int) ([]Hit, error) {
	if err := validateQuery(query, ivf.dim); err != nil {
		return nil, err
	}
	if topK <= 0 || len(ivf.vectors) == 0 {
		return []Hit{}, nil
	}

	// Rank partitions by centroid distance.
	order := make([]int, len(ivf.centroids))
	dists := make([]float32, len(ivf.centroids))
	for c, centroid := range ivf.centroids {
		order[c] = c
		dists[c] = CosineDistance(query, centroid)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return dists[order[i]] < dists[order[j]]
	})

	var hits []Hit
	probed := 0
	for _, c := range order {
		if probed >= ivf.nprobe && len(hits) >= topK {
			break
		}
		for _, id := range ivf.lists[c] {
			hits = append(hits, Hit{ID: id, Distance: CosineDistance(query, ivf.vectors[id])})
		}
		probed++
	}
	return rankHits(hits, topK), nil
}

// SearchSubset ranks only candidate IDs, using brute force over the subset.
// Pre-filtered queries bypass the partition structure: the candidate set is
// already small, and probing partitions could miss filtered matches entirely.
func (ivf *IVF) SearchSubset(query []float32, topK int, candidates []int) ([]Hit, error) {
	if err := validateQuery(query, ivf.dim); err != nil {
		return nil, err
	}
	if topK <= 0 || len(candidates) == 0 {
		return []Hit{}, nil
	}
	hits := make([]Hit, 0, len(candidates))
	for _, id := range candidates {
		if id < 0 || id >= len(ivf.vectors) {
			return nil, fmt.Errorf("candidate id %d out of range [0, %d)", id, len(ivf.vectors))
		}
		hits = append(hits, Hit{ID: id, Distance: CosineDistance(query, ivf.vectors[id])})
	}
	return rankHits(hits, topK), nil
}

// Len implements Index.
func (ivf *IVF) Len() int { return len(ivf.vectors) }

// Dimension implements Index.
func (ivf *IVF) Dimension() int { return ivf.dim }

// Vectors exposes the underlying ordered vectors for persistence.
// The returned slice must be treated as read-only.
func (ivf *IVF) Vectors() [][]float32 { return ivf.vectors }

// Params reports the construction parameters for persistence.
func (ivf *IVF) Params() IVFParams {
	return IVFParams{NList: len(ivf.centroids), NProbe: ivf.nprobe}
}
