package webhook

import (
	"fmt"
	"testing"
)

func TestSeenCacheEvictsLeastFrequent(t *testing.T) {
	c := newSeenCache(2)
	c.Set("a", map[string]any{"v": 1}) //nolint:errcheck // test
	c.Set("b", map[string]any{"v": 2}) //nolint:errcheck // test
	lastSeen(c, "a")
	lastSeen(c, "a")
	c.Set("c", map[string]any{"v": 3}) //nolint:errcheck // test

	if _, ok := lastSeen(c, "b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := lastSeen(c, "a"); !ok || v["v"] != 1 {
		t.Errorf("lastSeen(a) = %v, %v; want cached", v, ok)
	}
}

func TestSeenCacheBounded(t *testing.T) {
	c := newSeenCache(100)
	for i := 0; i < 10000; i++ {
		key := fmt.Sprint(i % 357)
		c.Set(key, map[string]any{}) //nolint:errcheck // test
		if i%3 == 0 {
			lastSeen(c, key)
		}
		if n := c.Len(false); n > 100 {
			t.Fatalf("Len() = %d after %d sets, want <= 100", n, i+1)
		}
	}
}

func TestSeenCacheMinimumSize(t *testing.T) {
	c := newSeenCache(0)
	c.Set("a", map[string]any{}) //nolint:errcheck // test
	if _, ok := lastSeen(c, "a"); !ok {
		t.Error("size 0 cache should still hold one entry")
	}
}
