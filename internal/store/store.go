// Package store holds labeled moderation examples and the similarity index
// built over their embeddings.
//
// A Store has two phases. During the build phase records are appended (bulk
// from ingestion or one at a time) and the index is rebuilt; the caller owns
// exclusivity: mutation must not interleave with queries. Once the build
// completes, the store is effectively immutable and arbitrarily many
// goroutines may query it concurrently without locking.
//
// Records keep insertion order; the index refers to records by position, and
// both collections always have equal cardinality. Insertion order is also the
// tie-break order for equidistant query results.
package store

import (
	"fmt"
	"log/slog"

	"github.com/modsift/modsift/internal/index"
)

// Options configures store construction.
type Options struct {
	// Dimension is the embedding dimensionality all records must match.
	Dimension int

	// FlatThreshold and IVF tune index construction; zero values use the
	// index package defaults.
	FlatThreshold int
	IVF           index.IVFParams

	// Logger for build diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// Store owns an ordered record collection and the similarity index over the
// records' embeddings.
type Store struct {
	opts    Options
	records []Record
	idx     index.SubsetIndex
	logger  *slog.Logger
}

// New creates an empty store for embeddings of the given dimensionality.
func New(opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", opts.Dimension)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{opts: opts, logger: logger}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// Add appends one record and rebuilds the index.
// Not safe to call concurrently with Query; see the package doc.
func (s *Store) Add(rec Record) error {
	if err := s.validate(rec); err != nil {
		return err
	}
	s.records = append(s.records, rec)
	return s.rebuild()
}

// BulkAdd appends records in order and rebuilds the index once.
// Not safe to call concurrently with Query; see the package doc.
func (s *Store) BulkAdd(recs []Record) error {
	for i, rec := range recs {
		if err := s.validate(rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	s.records = append(s.records, recs...)
	if err := s.rebuild(); err != nil {
		return err
	}
	s.logger.Debug("bulk add complete", "added", len(recs), "total", len(s.records))
	return nil
}

func (s *Store) validate(rec Record) error {
	if rec.Category == "" {
		return ErrEmptyCategory
	}
	if len(rec.Embedding) != s.opts.Dimension {
		return fmt.Errorf("%w: record has %d dimensions, store has %d",
			index.ErrDimensionMismatch, len(rec.Embedding), s.opts.Dimension)
	}
	return nil
}

// rebuild reconstructs the index over all current embeddings.
func (s *Store) rebuild() error {
	vectors := make([][]float32, len(s.records))
	for i := range s.records {
		vectors[i] = s.records[i].Embedding
	}
	idx, err := index.Build(s.opts.Dimension, vectors, index.BuildOptions{
		FlatThreshold: s.opts.FlatThreshold,
		IVF:           s.opts.IVF,
	})
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	s.idx = idx
	return nil
}

// Match is a record paired with its cosine distance from a query vector.
type Match struct {
	Record   Record
	Distance float32
}

// Query returns up to topK records nearest the query vector by ascending
// cosine distance, ties broken by insertion order. An empty category ranks
// all records; a non-empty category restricts candidates to records with
// that category before ranking, so fewer than topK results are legitimate
// when the category has fewer members.
//
// Querying an empty store returns an empty slice, not an error. A query
// whose length differs from the store dimension fails with
// index.ErrDimensionMismatch.
func (s *Store) Query(vector []float32, topK int, category string) ([]Match, error) {
	var (
		hits []index.Hit
		err  error
	)
	if category == "" {
		hits, err = s.idx.Search(vector, topK)
	} else {
		candidates := s.idsByCategory(category)
		// Validate dimensions even when no candidate exists so the caller
		// still learns about a malformed query.
		hits, err = s.idx.SearchSubset(vector, topK, candidates)
	}
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(hits))
	for i, h := range hits {
		matches[i] = Match{Record: s.records[h.ID], Distance: h.Distance}
	}
	return matches, nil
}

// idsByCategory returns insertion IDs of records with the given category,
// in insertion order.
func (s *Store) idsByCategory(category string) []int {
	var ids []int
	for i := range s.records {
		if s.records[i].Category == category {
			ids = append(ids, i)
		}
	}
	return ids
}

// Len reports the record count.
func (s *Store) Len() int { return len(s.records) }

// Dimension reports the store's embedding dimensionality.
func (s *Store) Dimension() int { return s.opts.Dimension }

// Records exposes the ordered record collection for persistence.
// The returned slice must be treated as read-only.
func (s *Store) Records() []Record { return s.records }
