package store

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/modsift/modsift/internal/index"
)

// ErrCorruptStore indicates a persisted store cannot be trusted: the index
// and metadata disagree on record count, or a required file is missing.
// Fatal: the caller must not use the store.
var ErrCorruptStore = errors.New("corrupt persisted store")

// Persisted store layout inside the store directory.
const (
	indexFileName   = "index.bin"
	recordsFileName = "records.jsonl"
)

// indexState is the gob-encoded binary index payload. Vectors are stored in
// insertion order; the in-memory index is rebuilt from them on load so the
// embeddings never need recomputing.
type indexState struct {
	Dimension int
	Count     int
	Vectors   [][]float32
	IVF       index.IVFParams
}

// recordMeta is one metadata row, same order as the index vectors.
type recordMeta struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// lockPath returns the sidecar lock file guarding a store directory.
// The lock lives beside the directory, not inside it, because Save replaces
// the directory wholesale.
func lockPath(dir string) string {
	return filepath.Clean(dir) + ".lock"
}

// Save durably writes the store to dir: the binary index state plus a
// metadata table with one row per record in index order.
//
// The write is atomic at the directory level: everything lands in a
// temporary sibling first and only replaces the prior persisted state after
// both files are complete, so an interrupted save never leaves a
// half-written store behind. A file lock serializes savers and loaders
// across processes.
func Save(s *Store, dir string) error {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	lock := flock.New(lockPath(dir))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring store lock: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	tmp, err := os.MkdirTemp(filepath.Dir(dir), filepath.Base(dir)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	defer func() {
		// No-op after a successful rename.
		_ = os.RemoveAll(tmp)
	}()

	if err := writeIndexFile(filepath.Join(tmp, indexFileName), s); err != nil {
		return err
	}
	if err := writeRecordsFile(filepath.Join(tmp, recordsFileName), s.Records()); err != nil {
		return err
	}

	// Swap the finished directory into place.
	old := dir + ".old"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("moving prior store aside: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		// Try to restore the prior state.
		_ = os.Rename(old, dir)
		return fmt.Errorf("publishing store: %w", err)
	}
	_ = os.RemoveAll(old)

	return nil
}

func writeIndexFile(path string, s *Store) error {
	f, err := os.Create(path) // #nosec G304 -- path derived from caller-chosen store dir
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	state := indexState{
		Dimension: s.Dimension(),
		Count:     s.Len(),
		Vectors:   make([][]float32, 0, s.Len()),
		IVF:       s.opts.IVF,
	}
	for _, rec := range s.Records() {
		state.Vectors = append(state.Vectors, rec.Embedding)
	}

	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(state); err != nil {
		return fmt.Errorf("encoding index state: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index file: %w", err)
	}
	return nil
}

func writeRecordsFile(path string, records []Record) error {
	f, err := os.Create(path) // #nosec G304 -- path derived from caller-chosen store dir
	if err != nil {
		return fmt.Errorf("creating records file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i, rec := range records {
		if err := enc.Encode(recordMeta{Text: rec.Text, Category: rec.Category}); err != nil {
			return fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing records file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing records file: %w", err)
	}
	return nil
}

// Load reconstructs a store from dir. The metadata row count must match the
// index's vector count; any disagreement, a missing file, or an undecodable
// payload yields ErrCorruptStore.
func Load(dir string, opts Options) (*Store, error) {
	dir = filepath.Clean(dir)

	lock := flock.New(lockPath(dir))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	state, err := readIndexFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, err
	}
	metas, err := readRecordsFile(filepath.Join(dir, recordsFileName))
	if err != nil {
		return nil, err
	}

	if len(metas) != state.Count || len(state.Vectors) != state.Count {
		return nil, fmt.Errorf("%w: index holds %d vectors (declared %d), metadata holds %d rows",
			ErrCorruptStore, len(state.Vectors), state.Count, len(metas))
	}
	if opts.Dimension != 0 && opts.Dimension != state.Dimension {
		return nil, fmt.Errorf("%w: store persisted with dimension %d, configured %d",
			index.ErrDimensionMismatch, state.Dimension, opts.Dimension)
	}

	opts.Dimension = state.Dimension
	if opts.IVF == (index.IVFParams{}) {
		opts.IVF = state.IVF
	}
	s, err := New(opts)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(metas))
	for i, m := range metas {
		if m.Category == "" {
			return nil, fmt.Errorf("%w: metadata row %d has empty category", ErrCorruptStore, i)
		}
		records[i] = Record{Text: m.Text, Category: m.Category, Embedding: state.Vectors[i]}
	}
	if err := s.BulkAdd(records); err != nil {
		return nil, fmt.Errorf("rebuilding index from persisted state: %w", err)
	}
	return s, nil
}

func readIndexFile(path string) (*indexState, error) {
	f, err := os.Open(path) // #nosec G304 -- path derived from caller-chosen store dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: missing index file %s", ErrCorruptStore, filepath.Base(path))
		}
		return nil, fmt.Errorf("opening index file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var state indexState
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&state); err != nil {
		return nil, fmt.Errorf("%w: decoding index state: %v", ErrCorruptStore, err)
	}
	return &state, nil
}

func readRecordsFile(path string) ([]recordMeta, error) {
	f, err := os.Open(path) // #nosec G304 -- path derived from caller-chosen store dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: missing records file %s", ErrCorruptStore, filepath.Base(path))
		}
		return nil, fmt.Errorf("opening records file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var metas []recordMeta
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var m recordMeta
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("%w: metadata line %d: %v", ErrCorruptStore, line, err)
		}
		metas = append(metas, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading records file: %w", err)
	}
	return metas, nil
}
