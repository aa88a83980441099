package cmd

import (
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modsift/modsift/db"
	"github.com/modsift/modsift/internal/config"
	"github.com/modsift/modsift/internal/retrieval"
	"github.com/modsift/modsift/internal/store"
)

// runSearch retrieves the nearest labeled examples for a text from the
// configured backend.
func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	topK := fs.Int("k", 0, "number of results (0 = config default)")
	category := fs.String("category", "", "restrict results to one category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf("search requires a query text")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, cancel := signalContext()
	defer cancel()

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := retrieval.Options{
		Backend:  cfg.Backend,
		Provider: provider,
		Timeout:  time.Duration(cfg.SearchTimeoutSeconds) * time.Second,
		Logger:   logger,
	}

	switch cfg.Backend {
	case retrieval.BackendWarehouse:
		pool, err := db.NewPool(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return fmt.Errorf("connecting to warehouse: %w", err)
		}
		defer pool.Close()
		opts.Pool = pool

	default:
		s, err := store.Load(cfg.StorePath, store.Options{Logger: logger})
		if err != nil {
			return fmt.Errorf("loading store from %s: %w", cfg.StorePath, err)
		}
		opts.Store = s
	}

	searcher, err := retrieval.New(opts)
	if err != nil {
		return err
	}

	k := *topK
	if k <= 0 {
		k = cfg.TopK
	}
	results, err := searcher.Search(ctx, retrieval.Query{
		Text:     text,
		TopK:     k,
		Category: *category,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No similar examples found.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%s] distance=%.4f  %s\n", i+1, r.Category, r.Distance, r.Text)
	}
	return nil
}
