package cmd

import (
	"flag"
	"fmt"
	"log/slog"

	"github.com/modsift/modsift/db"
	"github.com/modsift/modsift/internal/config"
	"github.com/modsift/modsift/internal/index"
	"github.com/modsift/modsift/internal/ingest"
	"github.com/modsift/modsift/internal/retrieval"
	"github.com/modsift/modsift/internal/store"
)

// runIngest embeds a labeled dataset and either builds + persists the local
// store or bulk-loads the warehouse, per the configured backend.
func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	dataset := fs.String("dataset", "", "path to the labeled dataset (.csv or .jsonl)")
	sample := fs.Int("sample", 0, "ingest a random subset of this many rows (0 = all)")
	batch := fs.Int("batch", 0, "texts per embedding request (0 = config default)")
	maxChars := fs.Int("max-chars", -1, "truncate texts to this many characters (-1 = config default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataset == "" {
		return fmt.Errorf("ingest requires -dataset")
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

	opts := ingest.Options{
		TextColumn:     cfg.TextColumn,
		CategoryColumn: cfg.CategoryColumn,
		BatchSize:      cfg.BatchSize,
		MaxChars:       cfg.MaxChars,
		SampleSize:     cfg.SampleSize,
		Logger:         logger,
	}
	if *sample > 0 {
		opts.SampleSize = *sample
	}
	if *batch > 0 {
		opts.BatchSize = *batch
	}
	if *maxChars >= 0 {
		opts.MaxChars = *maxChars
	}

	switch cfg.Backend {
	case retrieval.BackendWarehouse:
		pool, err := db.NewPool(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return fmt.Errorf("connecting to warehouse: %w", err)
		}
		defer pool.Close()

		result, err := ingest.IngestWarehouse(ctx, provider, pool, *dataset, opts)
		if err != nil {
			return err
		}
		printIngestResult(result)
		return nil

	default:
		storeOpts := store.Options{
			Dimension:     cfg.EmbeddingDimension,
			FlatThreshold: cfg.FlatThreshold,
			IVF:           index.IVFParams{NList: cfg.IVFNList, NProbe: cfg.IVFNProbe},
			Logger:        logger,
		}
		s, result, err := ingest.Ingest(ctx, provider, *dataset, opts, storeOpts)
		if err != nil {
			return err
		}
		if err := store.Save(s, cfg.StorePath); err != nil {
			return fmt.Errorf("persisting store: %w", err)
		}
		printIngestResult(result)
		fmt.Printf("Store saved to %s\n", cfg.StorePath)
		return nil
	}
}

func printIngestResult(r *ingest.Result) {
	fmt.Printf("Ingested %d records (%d rows skipped, %d batches skipped, %d records lost to batch failures)\n",
		r.Ingested, r.SkippedRows, r.SkippedBatches, r.FailedRecords)
}
