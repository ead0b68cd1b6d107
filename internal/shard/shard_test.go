package shard

import (
	"fmt"
	"testing"
)

func TestIndex_Stable(t *testing.T) {
	for _, key := range []string{"", "42", "user-a", "a:b"} {
		first := Index(key, DefaultCount)
		for i := 0; i < 10; i++ {
			if got := Index(key, DefaultCount); got != first {
				t.Fatalf("Index(%q) changed between calls: %d then %d", key, first, got)
			}
		}
	}
}

func TestIndex_InRange(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 10000; i++ {
		idx := Index(fmt.Sprintf("key-%d", i), DefaultCount)
		if idx < 0 || idx >= DefaultCount {
			t.Fatalf("index %d out of range [0,%d)", idx, DefaultCount)
		}
		seen[idx] = true
	}
	// 10k keys should touch nearly every bucket.
	if len(seen) < DefaultCount/2 {
		t.Errorf("poor distribution: only %d of %d buckets used", len(seen), DefaultCount)
	}
}
