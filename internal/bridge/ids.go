package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// IDs hands out correlation ids. Adapters feeding the same bridge share
// one so their commands never collide in the pending table. Ids are
// seeded from the clock so a restarted bridge does not reuse recent ones.
type IDs struct {
	next atomic.Uint64
}

func NewIDs() *IDs {
	g := &IDs{}
	g.next.Store(uint64(time.Now().UnixNano()))
	return g
}

// Next returns a fresh non-zero id.
func (g *IDs) Next() uint64 {
	for {
		if id := g.next.Add(1); id != 0 {
			return id
		}
	}
}

type mergedSource struct {
	ch chan Command
}

func (m *mergedSource) Commands() <-chan Command { return m.ch }

// Merge fans several sources into one until ctx ends. The merged channel
// closes once every source has closed or ctx is done.
func Merge(ctx context.Context, sources ...CommandSource) CommandSource {
	out := &mergedSource{ch: make(chan Command)}
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(in <-chan Command) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case cmd, ok := <-in:
					if !ok {
						return
					}
					select {
					case out.ch <- cmd:
					case <-ctx.Done():
						return
					}
				}
			}
		}(src.Commands())
	}
	go func() {
		wg.Wait()
		close(out.ch)
	}()
	return out
}
