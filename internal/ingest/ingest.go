// Package ingest builds vector stores from labeled moderation datasets.
//
// The pipeline reads a CSV or JSON-Lines file, drops malformed rows,
// optionally samples a subset, truncates text to a character limit, embeds
// the rows in provider-sized chunks, and assembles the records into a store
// ready for persistence or a warehouse bulk load.
//
// Isolated batch failures are tolerated: a chunk that keeps failing after
// bounded retries is skipped and counted, and ingestion continues. The final
// record and skip counts are both surfaced in Result so callers can judge
// completeness.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modsift/modsift/internal/embed"
	"github.com/modsift/modsift/internal/store"
)

// Defaults for Options zero values.
const (
	DefaultBatchSize    = 64
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultConcurrency  = 4
)

// Options configures an ingestion run.
type Options struct {
	// TextColumn and CategoryColumn name the dataset fields to read.
	// Defaults: "text" and "category".
	TextColumn     string
	CategoryColumn string

	// BatchSize caps texts per embedding request. Default: DefaultBatchSize.
	BatchSize int

	// MaxChars truncates each text to a prefix of this many characters.
	// Zero disables truncation.
	MaxChars int

	// SampleSize, when positive, ingests a random subset of that many rows.
	// Sampling is deterministic for a fixed SampleSeed and preserves the
	// dataset's relative row order.
	SampleSize int
	SampleSeed int64

	// MaxRetries bounds re-attempts for a failing embedding batch before it
	// is skipped. Default: DefaultMaxRetries.
	MaxRetries int

	// RetryBackoff is the initial backoff between attempts; it doubles per
	// retry. Default: DefaultRetryBackoff.
	RetryBackoff time.Duration

	// Concurrency bounds in-flight embedding batches. Default:
	// DefaultConcurrency.
	Concurrency int

	// Logger for progress and warnings. Nil uses slog.Default.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TextColumn == "" {
		o.TextColumn = "text"
	}
	if o.CategoryColumn == "" {
		o.CategoryColumn = "category"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.SampleSeed == 0 {
		o.SampleSeed = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Result summarizes an ingestion run.
type Result struct {
	// Ingested is the number of records that made it into the store.
	Ingested int

	// SkippedRows counts dataset rows dropped for missing or malformed
	// required fields.
	SkippedRows int

	// SkippedBatches counts embedding batches abandoned after retries.
	SkippedBatches int

	// FailedRecords counts records lost inside skipped batches.
	FailedRecords int
}

// Ingest reads the dataset at path, embeds it, and returns a populated store
// plus the run summary. The returned store has its index built and is ready
// for persistence or concurrent querying.
//
// Isolated batch failures do not abort the run; a dataset that cannot be
// read at all, or an embedding dimensionality conflict, does.
func Ingest(ctx context.Context, provider embed.Provider, path string, opts Options, storeOpts store.Options) (*store.Store, *Result, error) {
	opts = opts.withDefaults()
	if storeOpts.Dimension == 0 {
		storeOpts.Dimension = provider.Dimension()
	}
	if storeOpts.Dimension != provider.Dimension() {
		return nil, nil, fmt.Errorf("store dimension %d conflicts with provider dimension %d",
			storeOpts.Dimension, provider.Dimension())
	}

	rows, batches, result, err := prepare(path, opts)
	if err != nil {
		return nil, nil, err
	}

	embedded, err := embedBatches(ctx, provider, rows, batches, opts, result)
	if err != nil {
		return nil, nil, err
	}

	s, err := store.New(storeOpts)
	if err != nil {
		return nil, nil, err
	}
	records := make([]store.Record, 0, len(rows))
	for i, vec := range embedded {
		if vec == nil {
			continue // row belonged to a skipped batch
		}
		rec, err := store.NewRecord(rows[i].Text, rows[i].Category, vec)
		if err != nil {
			return nil, nil, fmt.Errorf("assembling record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	if err := s.BulkAdd(records); err != nil {
		return nil, nil, err
	}
	result.Ingested = len(records)

	opts.Logger.Info("ingestion complete",
		"ingested", result.Ingested,
		"skipped_rows", result.SkippedRows,
		"skipped_batches", result.SkippedBatches,
		"failed_records", result.FailedRecords)
	return s, result, nil
}

// batchRange is a half-open row range [start, end) embedded in one request.
type batchRange struct {
	start, end int
}

// prepare reads, samples, and truncates the dataset, returning the rows and
// their batch partition.
func prepare(path string, opts Options) ([]row, []batchRange, *Result, error) {
	rows, skipped, err := readDataset(path, opts, opts.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	result := &Result{SkippedRows: skipped}

	rows = sample(rows, opts.SampleSize, opts.SampleSeed)
	for i := range rows {
		rows[i].Text = truncate(rows[i].Text, opts.MaxChars)
	}

	var batches []batchRange
	for start := 0; start < len(rows); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, batchRange{start: start, end: end})
	}
	return rows, batches, result, nil
}

// embedBatches runs embedding requests with bounded concurrency and
// reassembles vectors in row order. Rows of abandoned batches stay nil.
func embedBatches(ctx context.Context, provider embed.Provider, rows []row, batches []batchRange, opts Options, result *Result) ([][]float32, error) {
	embedded := make([][]float32, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	// Failure accounting happens after Wait so no mutex is needed: each
	// batch writes only its own slot.
	failed := make([]bool, len(batches))

	for bi, br := range batches {
		g.Go(func() error {
			texts := make([]string, 0, br.end-br.start)
			for _, r := range rows[br.start:br.end] {
				texts = append(texts, r.Text)
			}

			vectors, err := embedWithRetry(gctx, provider, texts, opts)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err // the whole run is being torn down
				}
				opts.Logger.Warn("skipping embedding batch after retries",
					"batch", bi, "records", len(texts), "error", err)
				failed[bi] = true
				return nil
			}
			for j, vec := range vectors {
				embedded[br.start+j] = vec
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embedding aborted: %w", err)
	}

	for bi, br := range batches {
		if failed[bi] {
			result.SkippedBatches++
			result.FailedRecords += br.end - br.start
		}
	}
	return embedded, nil
}

// embedWithRetry attempts one batch with bounded exponential backoff.
func embedWithRetry(ctx context.Context, provider embed.Provider, texts []string, opts Options) ([][]float32, error) {
	var lastErr error
	backoff := opts.RetryBackoff
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		vectors, err := provider.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", opts.MaxRetries+1, lastErr)
}

// sample returns a deterministic random subset of n rows, preserving the
// dataset's relative order. n <= 0 or n >= len(rows) returns rows unchanged.
func sample(rows []row, n int, seed int64) []row {
	if n <= 0 || n >= len(rows) {
		return rows
	}
	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(len(rows))[:n]
	sort.Ints(picked)
	out := make([]row, n)
	for i, idx := range picked {
		out[i] = rows[idx]
	}
	return out
}
