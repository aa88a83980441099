package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// row is one well-formed dataset row before embedding.
type row struct {
	Text     string
	Category string
}

// readDataset loads labeled rows from a CSV or JSON-Lines file, dispatching
// on the file extension. Rows missing the text or category field are skipped
// with a logged warning and counted, never fatal.
func readDataset(path string, opts Options, logger *slog.Logger) ([]row, int, error) {
	f, err := os.Open(path) // #nosec G304 -- dataset path is operator-supplied
	if err != nil {
		return nil, 0, fmt.Errorf("opening dataset: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return readCSV(f, opts, logger)
	case ".jsonl", ".ndjson", ".json":
		return readJSONL(f, opts, logger)
	default:
		return nil, 0, fmt.Errorf("unsupported dataset format %q (want .csv or .jsonl)", ext)
	}
}

func readCSV(r io.Reader, opts Options, logger *slog.Logger) ([]row, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // tolerate ragged rows; they are skipped below

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading CSV header: %w", err)
	}
	textIdx, catIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case opts.TextColumn:
			textIdx = i
		case opts.CategoryColumn:
			catIdx = i
		}
	}
	if textIdx < 0 || catIdx < 0 {
		return nil, 0, fmt.Errorf("CSV header missing required columns %q and/or %q",
			opts.TextColumn, opts.CategoryColumn)
	}

	var (
		rows    []row
		skipped int
		line    = 1
	)
	for {
		line++
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			logger.Warn("skipping malformed CSV row", "line", line, "error", err)
			continue
		}
		if textIdx >= len(rec) || catIdx >= len(rec) {
			skipped++
			logger.Warn("skipping short CSV row", "line", line, "fields", len(rec))
			continue
		}
		text := rec[textIdx]
		category := strings.TrimSpace(rec[catIdx])
		if text == "" || category == "" {
			skipped++
			logger.Warn("skipping CSV row with empty required field", "line", line)
			continue
		}
		rows = append(rows, row{Text: text, Category: category})
	}
	return rows, skipped, nil
}

func readJSONL(r io.Reader, opts Options, logger *slog.Logger) ([]row, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		rows    []row
		skipped int
		line    int
	)
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			skipped++
			logger.Warn("skipping malformed JSONL row", "line", line, "error", err)
			continue
		}
		text, _ := obj[opts.TextColumn].(string)
		category, _ := obj[opts.CategoryColumn].(string)
		category = strings.TrimSpace(category)
		if text == "" || category == "" {
			skipped++
			logger.Warn("skipping JSONL row with missing required field", "line", line)
			continue
		}
		rows = append(rows, row{Text: text, Category: category})
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading dataset: %w", err)
	}
	return rows, skipped, nil
}

// truncate keeps at most maxChars characters of s, dropping the remainder.
// Counting is rune-based so multi-byte text is never split mid-character.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
