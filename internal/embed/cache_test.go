package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modsift/modsift/internal/testutil"
)

// fakeRedis is a map-backed Rediser for hit/miss tests.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	failSet bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) MGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals := make([]any, len(keys))
	for i, k := range keys {
		if v, ok := f.data[k]; ok {
			vals[i] = v
		}
	}
	cmd := redis.NewSliceCmd(ctx)
	cmd.SetVal(vals)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	if f.failSet {
		cmd.SetErr(fmt.Errorf("injected set failure"))
		return cmd
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	cmd.SetVal("OK")
	return cmd
}

// countingProvider tracks how often the wrapped provider is reached.
type countingProvider struct {
	dim   int
	calls int
}

func (p *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, p.dim)
		v[0] = float32(i + 1)
		vectors[i] = v
	}
	return vectors, nil
}

func (p *countingProvider) Dimension() int { return p.dim }

func TestNewCacheValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	defer client.Close()

	if _, err := NewCache(nil, client, "m", 0, nil); err == nil {
		t.Error("NewCache(nil provider) expected error")
	}
	if _, err := NewCache(&countingProvider{dim: 2}, nil, "m", 0, nil); err == nil {
		t.Error("NewCache(nil client) expected error")
	}
}

func TestCacheBypassesOnRedisFailure(t *testing.T) {
	// Port 1 is never listening; MGet fails and the call must fall through to
	// the wrapped provider instead of erroring out.
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	next := &countingProvider{dim: 2}
	c, err := NewCache(next, client, "test-model", 0, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	vectors, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() with unreachable redis error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("Embed() returned %d vectors, want 2", len(vectors))
	}
	if next.calls != 1 {
		t.Errorf("wrapped provider called %d times, want 1", next.calls)
	}
	if c.Dimension() != 2 {
		t.Errorf("Dimension() = %d, want 2", c.Dimension())
	}
}

func TestCacheServesRepeatLookups(t *testing.T) {
	client := newFakeRedis()
	next := testutil.NewEmbedder(4)
	c, err := NewCache(next, client, "test-model", 0, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	ctx := context.Background()
	texts := []string{"win a free prize", "hello friend"}

	first, err := c.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("first Embed() error = %v", err)
	}
	if next.Calls() != 1 {
		t.Fatalf("provider called %d times on cold cache, want 1", next.Calls())
	}

	// Same texts again: everything is cached, the provider is not reached.
	second, err := c.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("second Embed() error = %v", err)
	}
	if next.Calls() != 1 {
		t.Errorf("provider called %d times on warm cache, want 1", next.Calls())
	}
	for i := range texts {
		if len(second[i]) != 4 {
			t.Fatalf("cached vector %d has %d elements, want 4", i, len(second[i]))
		}
		for d := range second[i] {
			if second[i][d] != first[i][d] {
				t.Errorf("cached vector %d differs at element %d: %v vs %v",
					i, d, second[i][d], first[i][d])
			}
		}
	}
}

func TestCacheMixedHitMissKeepsInputOrder(t *testing.T) {
	client := newFakeRedis()
	next := testutil.NewEmbedder(4)
	c, err := NewCache(next, client, "test-model", 0, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	ctx := context.Background()

	// Seed the cache with "b" only; "a" and "c" are misses.
	if _, err := c.Embed(ctx, []string{"b"}); err != nil {
		t.Fatalf("seeding Embed() error = %v", err)
	}

	texts := []string{"a", "b", "c"}
	got, err := c.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("Embed() returned %d vectors, want %d", len(got), len(texts))
	}
	// Exactly one more provider call, for the two misses.
	if next.Calls() != 2 {
		t.Errorf("provider called %d times, want 2", next.Calls())
	}
	// Each slot must carry its own text's vector regardless of hit or miss.
	for i, txt := range texts {
		want := testutil.Vector(txt, 4)
		for d := range want {
			if got[i][d] != want[d] {
				t.Errorf("vector for %q wrong at element %d: %v, want %v", txt, d, got[i][d], want[d])
				break
			}
		}
	}
}

func TestCacheWriteFailureIsNonFatal(t *testing.T) {
	client := newFakeRedis()
	client.failSet = true
	next := testutil.NewEmbedder(4)
	c, err := NewCache(next, client, "test-model", 0, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	ctx := context.Background()

	got, err := c.Embed(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() with failing cache writes error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Embed() returned %d vectors, want 2", len(got))
	}
	// Nothing was cached, so a repeat lookup reaches the provider again.
	if _, err := c.Embed(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("repeat Embed() error = %v", err)
	}
	if next.Calls() != 2 {
		t.Errorf("provider called %d times, want 2 (no entries cached)", next.Calls())
	}
}

func TestCacheKeyIncludesModel(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	defer client.Close()

	a, err := NewCache(&countingProvider{dim: 2}, client, "model-a", 0, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	b, err := NewCache(&countingProvider{dim: 2}, client, "model-b", 0, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	if a.key("same text") == b.key("same text") {
		t.Error("cache keys collide across models")
	}
	if a.key("same text") != a.key("same text") {
		t.Error("cache key not deterministic")
	}
}

func TestDecodeCached(t *testing.T) {
	valid, err := json.Marshal([]float32{0.1, 0.2, 0.3})
	if err != nil {
		t.Fatalf("marshaling fixture: %v", err)
	}

	tests := []struct {
		name string
		raw  any
		dim  int
		ok   bool
	}{
		{"valid entry", string(valid), 3, true},
		{"nil miss", nil, 3, false},
		{"empty string", "", 3, false},
		{"wrong dimension", string(valid), 4, false},
		{"garbage payload", "not json", 3, false},
		{"non-string type", 42, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := decodeCached(tt.raw, tt.dim)
			if ok != tt.ok {
				t.Fatalf("decodeCached() ok = %v, want %v", ok, tt.ok)
			}
			if ok && len(v) != tt.dim {
				t.Errorf("decoded vector has %d elements, want %d", len(v), tt.dim)
			}
		})
	}
}
