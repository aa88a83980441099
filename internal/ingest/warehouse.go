package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/modsift/modsift/internal/embed"
	"github.com/modsift/modsift/internal/store"
)

// insertExampleSQL loads one labeled example into the warehouse. ON CONFLICT
// keeps re-runs idempotent per ID.
const insertExampleSQL = `
INSERT INTO moderation_examples (id, text, category, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET text = EXCLUDED.text, category = EXCLUDED.category, embedding = EXCLUDED.embedding`

// IngestWarehouse runs the same dataset pipeline as Ingest but bulk-loads
// the embedded records into the Postgres warehouse instead of building a
// local store. Rows are written in insertion batches via the pgx batch
// protocol. Returns the run summary.
func IngestWarehouse(ctx context.Context, provider embed.Provider, pool *pgxpool.Pool, path string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	rows, batches, result, err := prepare(path, opts)
	if err != nil {
		return nil, err
	}
	embedded, err := embedBatches(ctx, provider, rows, batches, opts, result)
	if err != nil {
		return nil, err
	}

	written := 0
	for _, br := range batches {
		b := &pgx.Batch{}
		queued := 0
		for i := br.start; i < br.end; i++ {
			if embedded[i] == nil {
				continue
			}
			rec, err := store.NewRecord(rows[i].Text, rows[i].Category, embedded[i])
			if err != nil {
				return nil, fmt.Errorf("assembling record %d: %w", i, err)
			}
			vec := pgvector.NewVector(rec.Embedding)
			b.Queue(insertExampleSQL, uuid.NewString(), rec.Text, rec.Category, vec)
			queued++
		}
		if queued == 0 {
			continue
		}
		if err := pool.SendBatch(ctx, b).Close(); err != nil {
			return nil, fmt.Errorf("writing warehouse batch: %w", err)
		}
		written += queued
	}
	result.Ingested = written

	opts.Logger.Info("warehouse ingestion complete",
		"ingested", result.Ingested,
		"skipped_rows", result.SkippedRows,
		"skipped_batches", result.SkippedBatches,
		"failed_records", result.FailedRecords)
	return result, nil
}
