package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/modsift/modsift/internal/store"
	"github.com/modsift/modsift/internal/testutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestIngestCSV(t *testing.T) {
	const dim = 8
	path := writeFile(t, "data.csv",
		"text,category\n"+
			"win a free prize,spam_or_scams\n"+
			"hello friend,clean\n"+
			"you are trash,offensive_language\n")

	provider := testutil.NewEmbedder(dim)
	s, result, err := Ingest(context.Background(), provider, path,
		Options{Logger: testutil.QuietLogger()},
		store.Options{Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if result.Ingested != 3 || result.SkippedRows != 0 {
		t.Errorf("result = %+v, want 3 ingested, 0 skipped", result)
	}
	if s.Len() != 3 {
		t.Fatalf("store has %d records, want 3", s.Len())
	}

	// Self-match: the spam text's own embedding finds the spam record at
	// distance ~0.
	matches, err := s.Query(testutil.Vector("win a free prize", dim), 1, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if matches[0].Record.Category != store.CategorySpam {
		t.Errorf("top match category = %q, want %q", matches[0].Record.Category, store.CategorySpam)
	}
	if matches[0].Distance > 1e-5 {
		t.Errorf("self-match distance = %v, want ~0", matches[0].Distance)
	}
}

func TestIngestSkipsMalformedRows(t *testing.T) {
	path := writeFile(t, "data.csv",
		"text,category\n"+
			"good row,clean\n"+
			",clean\n"+ // empty text
			"missing category,\n"+
			"short row\n"+
			"another good row,spam_or_scams\n")

	provider := testutil.NewEmbedder(4)
	s, result, err := Ingest(context.Background(), provider, path,
		Options{Logger: testutil.QuietLogger()},
		store.Options{Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Ingested != 2 {
		t.Errorf("Ingested = %d, want 2", result.Ingested)
	}
	if result.SkippedRows != 3 {
		t.Errorf("SkippedRows = %d, want 3", result.SkippedRows)
	}
	if s.Len() != 2 {
		t.Errorf("store has %d records, want 2", s.Len())
	}
}

func TestIngestJSONL(t *testing.T) {
	path := writeFile(t, "data.jsonl",
		`{"text":"buy cheap pills","category":"spam_or_scams"}`+"\n"+
			`{"text":"nice weather today","category":"clean"}`+"\n"+
			`{"category":"clean"}`+"\n"+ // missing text
			"not json\n"+
			`{"text":"threats here","category":"violence_or_threats"}`+"\n")

	provider := testutil.NewEmbedder(4)
	s, result, err := Ingest(context.Background(), provider, path,
		Options{Logger: testutil.QuietLogger()},
		store.Options{Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Ingested != 3 || result.SkippedRows != 2 {
		t.Errorf("result = %+v, want 3 ingested, 2 skipped", result)
	}
	if s.Len() != 3 {
		t.Errorf("store has %d records, want 3", s.Len())
	}
}

func TestIngestUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "data.parquet", "whatever")
	provider := testutil.NewEmbedder(4)
	_, _, err := Ingest(context.Background(), provider, path,
		Options{Logger: testutil.QuietLogger()},
		store.Options{Logger: testutil.QuietLogger()})
	if err == nil {
		t.Fatal("Ingest() with unsupported format expected error")
	}
}

func TestIngestTruncation(t *testing.T) {
	path := writeFile(t, "data.csv",
		"text,category\n"+
			"abcdefghij,clean\n")

	provider := testutil.NewEmbedder(4)
	s, _, err := Ingest(context.Background(), provider, path,
		Options{MaxChars: 4, Logger: testutil.QuietLogger()},
		store.Options{Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := s.Records()[0].Text; got != "abcd" {
		t.Errorf("truncated text = %q, want %q", got, "abcd")
	}
}

func TestIngestRetriesTransientFailures(t *testing.T) {
	path := writeFile(t, "data.csv",
		"text,category\n"+
			"one,clean\n"+
			"two,clean\n")

	// Two transient failures, then success; with MaxRetries 3 the single
	// batch must still make it through.
	provider := testutil.NewEmbedder(4)
	provider.FailFirst = 2
	s, result, err := Ingest(context.Background(), provider, path,
		Options{MaxRetries: 3, RetryBackoff: time.Millisecond, Logger: testutil.QuietLogger()},
		store.Options{Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Ingested != 2 || result.SkippedBatches != 0 {
		t.Errorf("result = %+v, want 2 ingested, 0 skipped batches", result)
	}
	if s.Len() != 2 {
		t.Errorf("store has %d records, want 2", s.Len())
	}
}

// batchFailProvider fails every Embed call containing a marker text.
type batchFailProvider struct {
	dim    int
	marker string
	mu     sync.Mutex
	calls  int
}

func (p *batchFailProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	for _, t := range texts {
		if t == p.marker {
			return nil, fmt.Errorf("poisoned batch")
		}
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = testutil.Vector(t, p.dim)
	}
	return vectors, nil
}

func (p *batchFailProvider) Dimension() int { return p.dim }

func TestIngestSkipsPersistentlyFailingBatch(t *testing.T) {
	// Batch size 2: rows [ok1 ok2] [poison ok3]. The second batch fails
	// every attempt and must be skipped while the first survives.
	path := writeFile(t, "data.csv",
		"text,category\n"+
			"ok1,clean\n"+
			"ok2,clean\n"+
			"poison,clean\n"+
			"ok3,clean\n")

	provider := &batchFailProvider{dim: 4, marker: "poison"}
	s, result, err := Ingest(context.Background(), provider, path,
		Options{BatchSize: 2, MaxRetries: 1, RetryBackoff: time.Millisecond, Logger: testutil.QuietLogger()},
		store.Options{Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Ingested != 2 {
		t.Errorf("Ingested = %d, want 2", result.Ingested)
	}
	if result.SkippedBatches != 1 {
		t.Errorf("SkippedBatches = %d, want 1", result.SkippedBatches)
	}
	if result.FailedRecords != 2 {
		t.Errorf("FailedRecords = %d, want 2", result.FailedRecords)
	}
	if s.Len() != 2 {
		t.Errorf("store has %d records, want 2", s.Len())
	}
}

func TestSampleDeterministic(t *testing.T) {
	rows := make([]row, 10)
	for i := range rows {
		rows[i] = row{Text: fmt.Sprintf("t%d", i), Category: "clean"}
	}

	a := sample(rows, 4, 99)
	b := sample(rows, 4, 99)
	if len(a) != 4 || len(b) != 4 {
		t.Fatalf("sample sizes = %d, %d, want 4", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("sample not deterministic at %d: %v vs %v", i, a[i], b[i])
		}
	}

	// Relative dataset order is preserved.
	last := -1
	for _, r := range a {
		var n int
		if _, err := fmt.Sscanf(r.Text, "t%d", &n); err != nil {
			t.Fatalf("parsing %q: %v", r.Text, err)
		}
		if n <= last {
			t.Errorf("sample out of dataset order: %d after %d", n, last)
		}
		last = n
	}

	if got := sample(rows, 0, 1); len(got) != len(rows) {
		t.Errorf("sample(0) returned %d rows, want all %d", len(got), len(rows))
	}
	if got := sample(rows, 100, 1); len(got) != len(rows) {
		t.Errorf("oversized sample returned %d rows, want all %d", len(got), len(rows))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxChars int
		want     string
	}{
		{"no limit", "hello", 0, "hello"},
		{"under limit", "hi", 10, "hi"},
		{"exact limit", "hello", 5, "hello"},
		{"over limit keeps prefix", "hello world", 5, "hello"},
		{"multibyte safe", "héllo wörld", 7, "héllo w"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.maxChars); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.maxChars, got, tt.want)
			}
		})
	}
}
