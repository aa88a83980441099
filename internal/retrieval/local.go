package retrieval

import (
	"context"
	"log/slog"

	"github.com/modsift/modsift/internal/embed"
	"github.com/modsift/modsift/internal/store"
)

// Local serves retrieval from an in-process similarity index. The store is
// read-only once published, so Local is safe for concurrent use without
// locking.
type Local struct {
	store    *store.Store
	provider embed.Provider
	logger   *slog.Logger
}

// NewLocal builds the local backend over a published store.
func NewLocal(s *store.Store, provider embed.Provider, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{store: s, provider: provider, logger: logger}
}

// Search implements Searcher.
func (l *Local) Search(ctx context.Context, q Query) ([]Result, error) {
	vector, err := resolveVector(ctx, l.provider, q)
	if err != nil {
		return nil, err
	}

	matches, err := l.store.Query(vector, effectiveTopK(q.TopK), q.Category)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			Text:     m.Record.Text,
			Category: m.Record.Category,
			Distance: m.Distance,
		}
	}
	l.logger.Debug("local search complete", "top_k", effectiveTopK(q.TopK),
		"category", q.Category, "results", len(results))
	return results, nil
}
