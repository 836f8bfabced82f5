package causality_test

import (
	"sync"
	"testing"

	"github.com/agentkernel/core/causality"
)

func TestSequencer_StartsAtOne(t *testing.T) {
	seq := causality.NewSequencer()
	if got := seq.Next(); got != 1 {
		t.Errorf("first Next() = %d, want 1", got)
	}
	if got := seq.Next(); got != 2 {
		t.Errorf("second Next() = %d, want 2", got)
	}
}

func TestSequencer_MonotonicUnderConcurrency(t *testing.T) {
	seq := causality.NewSequencer()
	const n = 500

	var wg sync.WaitGroup
	results := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = seq.Next()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, v := range results {
		if seen[v] {
			t.Fatalf("sequence value %d produced twice", v)
		}
		seen[v] = true
	}
	if got := seq.Next(); got != n+1 {
		t.Errorf("Next() after %d concurrent calls = %d, want %d", n, got, n+1)
	}
}
