package gamenight

import (
	"testing"
	"time"
)

func newTestCache(size int, ttl time.Duration) (*Cache[string], *time.Time) {
	c := NewCache[string](size, ttl)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheFreshness(t *testing.T) {
	c, now := newTestCache(0, time.Minute)
	c.put("k", "v")

	t.Run("fresh within ttl", func(t *testing.T) {
		*now = now.Add(59 * time.Second)
		e, ok := c.Get("k")
		if !ok || e.Data != "v" {
			t.Fatalf("expected fresh hit, got %+v %v", e, ok)
		}
	})

	t.Run("expired at ttl", func(t *testing.T) {
		*now = now.Add(time.Second)
		if _, ok := c.Get("k"); ok {
			t.Fatal("expected miss once ttl elapsed")
		}
		if c.Len() != 1 {
			t.Fatalf("expired entry stays until evicted or replaced, len=%d", c.Len())
		}
	})
}

func TestCacheDefaults(t *testing.T) {
	c := NewCache[int](0, 0)
	if c.TTL() != DefaultCacheTTL {
		t.Fatalf("expected default ttl %s, got %s", DefaultCacheTTL, c.TTL())
	}
}

func TestCacheReplaceInvalidateClear(t *testing.T) {
	c, now := newTestCache(0, time.Minute)
	first := c.put("k", "v1")
	*now = now.Add(30 * time.Second)
	second := c.put("k", "v2")
	if !second.Timestamp.After(first.Timestamp) {
		t.Fatal("refetch must replace the entry wholesale with a new timestamp")
	}
	if e, _ := c.Get("k"); e.Data != "v2" {
		t.Fatalf("expected v2, got %q", e.Data)
	}

	c.Invalidate("k")
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after invalidate")
	}

	c.put("a", "1")
	c.put("b", "2")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty after clear, len=%d", c.Len())
	}
}

func TestCacheBounded(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.put("a", "1")
	c.put("b", "2")
	c.Get("a")
	c.put("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Fatal("least recently used entry should be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("recently used entry should survive")
	}
}
