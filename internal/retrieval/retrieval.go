// Package retrieval presents one search operation over labeled moderation
// examples regardless of where the vectors live: an in-process similarity
// index or the Postgres/pgvector warehouse.
//
// The backend is chosen once at construction from configuration and never
// mixed within a query. Both backends normalize results to the same
// (text, category, distance) shape so prompt-building code downstream stays
// backend-agnostic.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modsift/modsift/internal/embed"
	"github.com/modsift/modsift/internal/store"
)

// Backend names accepted in configuration.
const (
	BackendLocal     = "local"
	BackendWarehouse = "warehouse"
)

// DefaultTopK applies when a query does not set TopK.
const DefaultTopK = 5

// DefaultTimeout bounds a warehouse request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// ErrUnavailable indicates retrieval itself is broken: a backend timeout,
// a remote failure, or an embedding failure while resolving the query
// vector. Distinct from an empty result, which is a legitimate answer.
// Fatal for that query only; retrying is the caller's policy.
var ErrUnavailable = errors.New("retrieval unavailable")

// Query asks for the nearest labeled examples. Exactly one of Text or
// Vector must be set: with Text the facade embeds it first, with Vector the
// caller supplies a precomputed embedding.
type Query struct {
	Text   string
	Vector []float32

	// TopK caps the result count. Zero selects DefaultTopK.
	TopK int

	// Category, when non-empty, restricts candidates to that category
	// before ranking; fewer than TopK results are then legitimate.
	Category string
}

// Result is one retrieved example, normalized across backends.
type Result struct {
	Text     string
	Category string
	Distance float32
}

// Searcher is the facade contract shared by both backends.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Options selects and configures the backend once at startup.
type Options struct {
	// Backend is BackendLocal or BackendWarehouse.
	Backend string

	// Provider resolves Query.Text to a vector. Required.
	Provider embed.Provider

	// Store backs BackendLocal.
	Store *store.Store

	// Pool backs BackendWarehouse.
	Pool *pgxpool.Pool

	// Timeout bounds each warehouse request. Zero selects DefaultTimeout.
	Timeout time.Duration

	// Logger for diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// New constructs the configured backend. Mismatched options (warehouse
// backend without a pool, local backend without a store) fail fast.
func New(opts Options) (Searcher, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch opts.Backend {
	case BackendLocal:
		if opts.Store == nil {
			return nil, fmt.Errorf("local backend requires a store")
		}
		return NewLocal(opts.Store, opts.Provider, logger), nil
	case BackendWarehouse:
		if opts.Pool == nil {
			return nil, fmt.Errorf("warehouse backend requires a connection pool")
		}
		return NewWarehouse(opts.Pool, opts.Provider, opts.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown retrieval backend %q (want %q or %q)",
			opts.Backend, BackendLocal, BackendWarehouse)
	}
}

// resolveVector returns the query vector, embedding Text when no
// precomputed vector was supplied. Embedding failure maps to ErrUnavailable
// so callers can tell broken retrieval apart from an empty result.
func resolveVector(ctx context.Context, provider embed.Provider, q Query) ([]float32, error) {
	if q.Vector != nil {
		return q.Vector, nil
	}
	if q.Text == "" {
		return nil, fmt.Errorf("query needs either text or a vector")
	}
	vectors, err := provider.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}
	return vectors[0], nil
}

func effectiveTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}
