package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/storage"
	"github.com/mattjoyce/switchyard/internal/transport"
)

type fabric struct {
	pool   *Pool
	door   *FrontDoor
	ctx    context.Context
	bridge *transport.Conn
}

func startFabric(t *testing.T, workers int, obs Observers, respond func(protocol.Envelope) []string) *fabric {
	t.Helper()
	pool, ctx, cancel := startPool(t, workers, obs)

	door, err := NewFrontDoor("127.0.0.1:0", pool, obs, quietLogger())
	require.NoError(t, err)
	doorDone := make(chan error, 1)
	go func() { doorDone <- door.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-doorDone:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("front door did not stop")
		}
	})

	for _, addr := range pool.Addrs() {
		fakeWorker(t, ctx, addr, respond)
	}

	bridge := transport.Dial(ctx, door.Addr(), "bridge", transport.DialOptions{RetryInterval: 10 * time.Millisecond}, quietLogger())
	require.NoError(t, bridge.WaitConnected(ctxWithTimeout(t, 2*time.Second)))
	t.Cleanup(func() { _ = bridge.Close() })

	return &fabric{pool: pool, door: door, ctx: ctx, bridge: bridge}
}

func (f *fabric) send(t *testing.T, env protocol.Envelope) {
	t.Helper()
	payload, err := protocol.EncodeString(env)
	require.NoError(t, err)
	_, err = f.bridge.SendStrict(payload)
	require.NoError(t, err)
}

func (f *fabric) recv(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case msg, ok := <-f.bridge.Messages():
		require.True(t, ok, "bridge connection closed")
		env, err := protocol.DecodeString(msg)
		require.NoError(t, err)
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no result returned to bridge")
		return protocol.Envelope{}
	}
}

func (f *fabric) settled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := f.pool.Stats()
		return st.Todo == 0 && st.Done == 0 && f.door.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEndToEndTwoWorkers(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	j := journal.New(db)

	f := startFabric(t, 2, Observers{Journal: j}, func(req protocol.Envelope) []string {
		out, _ := protocol.EncodeString(req.Reply("done: " + req.Message()))
		return []string{out}
	})

	wire := `{"name":"test","message":"test","type":2,"id":42,"options":"A<|OS|>B","opt_sp":"<|OS|>"}`
	_, err = f.bridge.SendStrict(wire)
	require.NoError(t, err)

	res := f.recv(t)
	d, ok := res.Discord()
	require.True(t, ok)
	assert.Equal(t, uint64(42), d.ID)
	assert.Equal(t, "test", res.Name())
	assert.Equal(t, "done: test", res.Message())

	f.settled(t)

	select {
	case extra := <-f.bridge.Messages():
		t.Fatalf("unexpected second result: %q", extra)
	case <-time.After(100 * time.Millisecond):
	}

	entries, err := j.Show(context.Background(), "42")
	require.NoError(t, err)
	var stages []journal.Stage
	for _, e := range entries {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []journal.Stage{journal.StageAccepted, journal.StageDispatched, journal.StageCompleted}, stages)
}

func TestUnknownCorrelationDropped(t *testing.T) {
	t.Parallel()

	f := startFabric(t, 2, Observers{}, func(req protocol.Envelope) []string {
		stray, _ := protocol.EncodeString(protocol.NewDiscord(req.Name(), "stray", 999, "", ""))
		real, _ := protocol.EncodeString(req.Reply("real"))
		return []string{stray, real}
	})

	f.send(t, protocol.NewDiscord("ping", "", 7, "", protocol.DefaultOptionSeparator))

	res := f.recv(t)
	d, _ := res.Discord()
	assert.Equal(t, uint64(7), d.ID)
	assert.Equal(t, "real", res.Message())
	f.settled(t)
}

func TestDuplicateCorrelationIgnored(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := startFabric(t, 1, Observers{}, func(req protocol.Envelope) []string {
		<-release
		out, _ := protocol.EncodeString(req.Reply(req.Message()))
		return []string{out}
	})

	f.send(t, protocol.NewDiscord("ping", "first", 5, "", ""))
	require.Eventually(t, func() bool { return f.door.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.send(t, protocol.NewDiscord("ping", "second", 5, "", ""))
	close(release)

	res := f.recv(t)
	assert.Equal(t, "first", res.Message())
	f.settled(t)

	var assigned int64
	for _, w := range f.pool.Stats().Workers {
		assigned += w.Assigned
	}
	assert.Equal(t, int64(1), assigned)
}

func TestNonDiscordResultNotReturned(t *testing.T) {
	t.Parallel()

	f := startFabric(t, 1, Observers{}, replyWith("ok"))
	f.send(t, protocol.NewNormal("status", "", mustUUID(t)))

	select {
	case msg := <-f.bridge.Messages():
		t.Fatalf("normal result must not reach the bridge, got %q", msg)
	case <-time.After(200 * time.Millisecond):
	}
	f.settled(t)
}

func TestMalformedAndInvalidRequestsDropped(t *testing.T) {
	t.Parallel()

	f := startFabric(t, 1, Observers{}, replyWith("ok"))
	_, err := f.bridge.SendStrict("not json")
	require.NoError(t, err)
	f.send(t, protocol.NewDiscord("zero", "", 0, "", ""))
	f.send(t, protocol.NewDiscord("ping", "", 3, "", ""))

	res := f.recv(t)
	d, _ := res.Discord()
	assert.Equal(t, uint64(3), d.ID)
	f.settled(t)
}
