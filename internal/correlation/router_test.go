package correlation

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterResolveOnce(t *testing.T) {
	t.Parallel()

	r := New[uint64, string](quietLogger())
	require.NoError(t, r.AddPending(42, "channel-a"))
	assert.Equal(t, 1, r.Len())

	h, err := r.Resolve(42)
	require.NoError(t, err)
	assert.Equal(t, "channel-a", h)

	_, err = r.Resolve(42)
	require.ErrorIs(t, err, ErrUnknownCorrelation)
	assert.Equal(t, 0, r.Len())
}

func TestRouterUnknownIDDropped(t *testing.T) {
	t.Parallel()

	r := New[uint64, string](quietLogger())
	require.NoError(t, r.AddPending(1, "one"))

	_, err := r.Resolve(999)
	require.ErrorIs(t, err, ErrUnknownCorrelation)
	assert.Equal(t, 1, r.Len(), "unrelated entries must survive")
}

func TestRouterDuplicateKeepsFirst(t *testing.T) {
	t.Parallel()

	r := New[uint64, string](quietLogger())
	require.NoError(t, r.AddPending(7, "first"))
	require.ErrorIs(t, r.AddPending(7, "second"), ErrDuplicateCorrelation)

	h, err := r.Resolve(7)
	require.NoError(t, err)
	assert.Equal(t, "first", h)
}

func TestRouterConcurrentResolveExactlyOnce(t *testing.T) {
	t.Parallel()

	const keys, racers = 100, 4
	r := New[uint64, int](quietLogger())
	for k := uint64(1); k <= keys; k++ {
		require.NoError(t, r.AddPending(k, int(k)))
	}

	var mu sync.Mutex
	wins := make(map[uint64]int)
	var wg sync.WaitGroup
	for g := 0; g < racers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := uint64(1); k <= keys; k++ {
				if _, err := r.Resolve(k); err == nil {
					mu.Lock()
					wins[k]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, wins, keys)
	for k, n := range wins {
		assert.Equal(t, 1, n, "key %d resolved %d times", k, n)
	}
}

func TestRouterSweep(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	r := New[string, int](quietLogger())
	r.now = func() time.Time { return now }

	require.NoError(t, r.AddPending("old", 1))
	now = now.Add(time.Minute)
	require.NoError(t, r.AddPending("fresh", 2))

	assert.Nil(t, r.Sweep(0), "zero ttl disables expiry")

	expired := r.Sweep(30 * time.Second)
	assert.Equal(t, map[string]int{"old": 1}, expired)
	assert.Equal(t, 1, r.Len())

	_, err := r.Resolve("old")
	require.ErrorIs(t, err, ErrUnknownCorrelation)
}

func TestSuffixRoundTrip(t *testing.T) {
	t.Parallel()

	text := FormatSuffix("pong", 42)
	assert.Equal(t, "pong<|ID|>42", text)

	body, id, err := ParseSuffix(text)
	require.NoError(t, err)
	assert.Equal(t, "pong", body)
	assert.Equal(t, uint64(42), id)
}

func TestParseSuffixBodyContainsMarker(t *testing.T) {
	t.Parallel()

	body, id, err := ParseSuffix("a<|ID|>b<|ID|>9")
	require.NoError(t, err)
	assert.Equal(t, "a<|ID|>b", body)
	assert.Equal(t, uint64(9), id)
}

func TestParseSuffixErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"no marker", "body<|ID|>", "body<|ID|>x1"} {
		_, _, err := ParseSuffix(in)
		assert.ErrorIs(t, err, ErrUnknownCorrelation, in)
	}
}
