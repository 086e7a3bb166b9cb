package embedding

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry missing")
	}
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a")
	c.Set("c", []float32{3})

	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived")
	}
}

// countingEmbedder wraps HashEmbedder and counts backend calls.
type countingEmbedder struct {
	*HashEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func TestCachedEmbedderHitsSkipBackend(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16, "hash-v1")}
	cached := NewCached(inner, 10)
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "knee surgery"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := cached.Embed(ctx, "knee surgery"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("backend calls = %d, want 1", inner.calls)
	}

	if _, err := cached.EmbedBatch(ctx, []string{"knee surgery", "heart surgery"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("backend calls = %d, want 2 (one new text)", inner.calls)
	}
	if cached.Version() != "hash-v1" || cached.Dimensions() != 16 {
		t.Error("cached wrapper does not delegate Version/Dimensions")
	}
}

// Get reorders the recency list, so concurrent readers contend on shared
// state. Run with -race.
func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(64)
	keys := make([]string, 64)
	for i := range keys {
		keys[i] = fmt.Sprintf("query-%d", i)
		c.Set(keys[i], []float32{float32(i)})
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := keys[(g*31+i)%len(keys)]
				if v, ok := c.Get(key); ok && len(v) != 1 {
					t.Errorf("Get(%s) returned corrupted value %v", key, v)
				}
				if i%10 == 0 {
					c.Set(fmt.Sprintf("extra-%d-%d", g, i), []float32{1})
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("Len() = %d, exceeds capacity", c.Len())
	}
}

func TestCachedEmbedderConcurrent(t *testing.T) {
	cached := NewCached(NewHashEmbedder(16, "hash-v1"), 32)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := cached.Embed(ctx, "knee surgery pune"); err != nil {
					t.Errorf("Embed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
