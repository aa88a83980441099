package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/modsift/modsift/internal/embed"
	"github.com/modsift/modsift/internal/index"
)

// searchSQL ranks warehouse rows by pgvector cosine distance (<=> operator),
// matching the local backend's metric. The category predicate is pushed into
// the query so filtering happens before ranking, and seq preserves the
// insertion-order tie break.
const searchSQL = `
SELECT text, category, embedding <=> $1 AS distance
FROM moderation_examples
WHERE $2 = '' OR category = $2
ORDER BY embedding <=> $1 ASC, seq ASC
LIMIT $3`

// Warehouse serves retrieval from the Postgres/pgvector warehouse. Each
// request is bounded by the configured timeout; concurrency control beyond
// that is delegated to Postgres. The backend never retries; retry policy
// belongs to the caller.
type Warehouse struct {
	pool     *pgxpool.Pool
	provider embed.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewWarehouse builds the warehouse backend. timeout <= 0 selects
// DefaultTimeout.
func NewWarehouse(pool *pgxpool.Pool, provider embed.Provider, timeout time.Duration, logger *slog.Logger) *Warehouse {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warehouse{pool: pool, provider: provider, timeout: timeout, logger: logger}
}

// Search implements Searcher. Timeouts and remote errors surface as
// ErrUnavailable rather than an empty list, so callers can distinguish "no
// similar examples" from "retrieval broken". A timeout abandons waiting; it
// does not stop the warehouse-side work.
func (w *Warehouse) Search(ctx context.Context, q Query) ([]Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	vector, err := resolveVector(queryCtx, w.provider, q)
	if err != nil {
		return nil, err
	}
	if len(vector) != w.provider.Dimension() {
		return nil, fmt.Errorf("%w: query has %d dimensions, warehouse expects %d",
			index.ErrDimensionMismatch, len(vector), w.provider.Dimension())
	}

	rows, err := w.pool.Query(queryCtx, searchSQL,
		pgvector.NewVector(vector), q.Category, effectiveTopK(q.TopK))
	if err != nil {
		return nil, fmt.Errorf("%w: warehouse query: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			distance float64
		)
		if err := rows.Scan(&r.Text, &r.Category, &distance); err != nil {
			return nil, fmt.Errorf("%w: scanning warehouse row: %v", ErrUnavailable, err)
		}
		r.Distance = float32(distance)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading warehouse rows: %v", ErrUnavailable, err)
	}

	w.logger.Debug("warehouse search complete", "top_k", effectiveTopK(q.TopK),
		"category", q.Category, "results", len(results))
	if results == nil {
		results = []Result{}
	}
	return results, nil
}
