package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loopbackAddrs(n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = "127.0.0.1:0"
	}
	return addrs
}

// fakeWorker dials addr and answers every request with respond(req).
func fakeWorker(t *testing.T, ctx context.Context, addr string, respond func(protocol.Envelope) []string) *transport.Conn {
	t.Helper()
	conn := transport.Dial(ctx, addr, "fake-worker", transport.DialOptions{RetryInterval: 10 * time.Millisecond}, quietLogger())
	go func() {
		for msg := range conn.Messages() {
			req, err := protocol.DecodeString(msg)
			if err != nil {
				continue
			}
			for _, out := range respond(req) {
				_, _ = conn.Send(out)
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func replyWith(text string) func(protocol.Envelope) []string {
	return func(req protocol.Envelope) []string {
		out, _ := protocol.EncodeString(req.Reply(text))
		return []string{out}
	}
}

func startPool(t *testing.T, n int, obs Observers) (*Pool, context.Context, context.CancelFunc) {
	t.Helper()
	pool, err := NewPool(loopbackAddrs(n), obs, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- pool.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("pool did not stop")
		}
	})
	return pool, ctx, cancel
}

func TestNextIsRoundRobin(t *testing.T) {
	t.Parallel()

	p := &Pool{slots: make([]*slot, 3)}
	var got []int
	for i := 0; i < 7; i++ {
		got = append(got, p.next())
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestPoolFairness(t *testing.T) {
	t.Parallel()

	const workers, messages = 3, 10
	pool, _, _ := startPool(t, workers, Observers{})

	for i := 1; i <= messages; i++ {
		require.NoError(t, pool.Submit(protocol.NewDiscord("job", fmt.Sprint(i), uint64(i), "", protocol.DefaultOptionSeparator)))
	}

	require.Eventually(t, func() bool {
		var total int64
		for _, w := range pool.Stats().Workers {
			total += w.Assigned
		}
		return total == messages
	}, 2*time.Second, 5*time.Millisecond)

	for _, w := range pool.Stats().Workers {
		assert.GreaterOrEqual(t, w.Assigned, int64(messages/workers))
		assert.LessOrEqual(t, w.Assigned, int64(messages/workers+1))
		// Nobody is connected, so everything sits in backlog.
		assert.Equal(t, int(w.Assigned), w.Backlog)
	}
}

func TestPoolBacklogFlushesInOrder(t *testing.T) {
	t.Parallel()

	pool, ctx, _ := startPool(t, 2, Observers{})
	for i := 1; i <= 6; i++ {
		require.NoError(t, pool.Submit(protocol.NewDiscord("job", "", uint64(i), "", "")))
	}
	require.Eventually(t, func() bool { return pool.Stats().Workers[0].Backlog == 3 }, 2*time.Second, 5*time.Millisecond)

	seen := make(chan uint64, 6)
	fakeWorker(t, ctx, pool.Addrs()[0], func(req protocol.Envelope) []string {
		d, _ := req.Discord()
		seen <- d.ID
		return nil
	})

	var ids []uint64
	for len(ids) < 3 {
		select {
		case id := <-seen:
			ids = append(ids, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("worker 0 received only %v", ids)
		}
	}
	assert.Equal(t, []uint64{1, 3, 5}, ids)
	assert.Equal(t, 0, pool.Stats().Workers[0].Backlog)
}

func TestPoolRejectsInvalidEnvelope(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(loopbackAddrs(1), Observers{}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(pool.close)

	err = pool.Submit(protocol.NewDiscord("job", "", 0, "", ""))
	require.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
	assert.Equal(t, 0, pool.Stats().Todo)
}

func TestPoolMalformedReplyDropped(t *testing.T) {
	t.Parallel()

	hub := events.NewHub(32)
	pool, ctx, _ := startPool(t, 1, Observers{Hub: hub})
	fakeWorker(t, ctx, pool.Addrs()[0], func(req protocol.Envelope) []string {
		good, _ := protocol.EncodeString(req.Reply("ok"))
		return []string{`{"name":"broken"}`, good}
	})

	require.NoError(t, pool.Submit(protocol.NewDiscord("job", "", 5, "", "")))

	env, err := pool.Done().Dequeue(ctxWithTimeout(t, 2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Message())

	st := pool.Stats().Workers[0]
	assert.Equal(t, int64(1), st.Malformed)
	assert.Equal(t, int64(1), st.Completed)

	var dropped int
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type == events.TypeEnvelopeDropped {
			dropped++
		}
	}
	assert.Equal(t, 1, dropped)
}

func TestNewPoolBindFailure(t *testing.T) {
	t.Parallel()

	first, err := NewPool(loopbackAddrs(1), Observers{}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(first.close)

	_, err = NewPool([]string{"127.0.0.1:0", first.Addrs()[0]}, Observers{}, quietLogger())
	require.Error(t, err)

	_, err = NewPool(nil, Observers{}, quietLogger())
	require.Error(t, err)
}

func ctxWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
