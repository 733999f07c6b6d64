package bridge

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDsUniqueAcrossGoroutines(t *testing.T) {
	ids := NewIDs()
	const perWorker, workers = 200, 4

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := ids.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, perWorker*workers)
	assert.False(t, seen[0])
}

func TestIDsSkipZeroOnWrap(t *testing.T) {
	ids := &IDs{}
	ids.next.Store(^uint64(0))
	assert.Equal(t, uint64(1), ids.Next())
}

func TestMergeFansInAndCloses(t *testing.T) {
	a, b := make(chanSource), make(chanSource)
	merged := Merge(context.Background(), a, b)

	go func() {
		a <- Command{ID: 1}
		b <- Command{ID: 2}
		a <- Command{ID: 3}
		close(a)
		close(b)
	}()

	var got []int
	timeout := time.After(2 * time.Second)
	for {
		select {
		case cmd, ok := <-merged.Commands():
			if !ok {
				sort.Ints(got)
				assert.Equal(t, []int{1, 2, 3}, got)
				return
			}
			got = append(got, int(cmd.ID))
		case <-timeout:
			require.FailNow(t, "merged source never closed", "got %v", got)
		}
	}
}

func TestMergeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	merged := Merge(ctx, make(chanSource))
	cancel()

	select {
	case _, ok := <-merged.Commands():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("merged source not closed after cancel")
	}
}
