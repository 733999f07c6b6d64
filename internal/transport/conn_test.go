package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recv(t *testing.T, c *Conn) string {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		require.True(t, ok, "message channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestConnRoundTrip(t *testing.T) {
	a, b := Pair("test", quietLogger())
	defer a.Close()
	defer b.Close()

	inputs := []string{
		"",
		"plain ascii",
		`{"name":"test","message":"<|EOM|> is escaped","type":0}`,
		"한글 메시지",
		"emoji 🚀 and tabs\t\n",
	}
	for _, in := range inputs {
		n, err := a.Send(in)
		require.NoError(t, err)
		assert.Equal(t, len(in)+len(EOM), n)
		assert.Equal(t, in, recv(t, b))
	}

	_, err := b.Send("reply")
	require.NoError(t, err)
	assert.Equal(t, "reply", recv(t, a))
}

func TestConnAckIsNotDelivered(t *testing.T) {
	a, b := Pair("ack", quietLogger())
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Ack())
	_, err := a.Send("after-ack")
	require.NoError(t, err)

	assert.Equal(t, "after-ack", recv(t, b))
	assert.Equal(t, int64(1), b.Acks())
}

func TestConnMarkerInPayloadIsMisframed(t *testing.T) {
	a, b := Pair("marker", quietLogger())
	defer a.Close()
	defer b.Close()

	_, err := a.Send("result text <|EOM|> trailing")
	require.NoError(t, err)

	assert.Equal(t, "result text ", recv(t, b))
	assert.Equal(t, " trailing", recv(t, b))
}

func TestSendBeforeConnectIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Nothing listens on this address, so the dialer never attaches.
	ln, err := Listen("127.0.0.1:0", "probe", quietLogger())
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := Dial(ctx, addr, "client", DialOptions{RetryInterval: 10 * time.Millisecond}, quietLogger())
	defer c.Close()

	n, err := c.Send("lost")
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), c.Dropped())

	_, err = c.SendStrict("lost")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.Connected())
}

func TestListenAndDial(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen("127.0.0.1:0", "worker-0", quietLogger())
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	client := Dial(ctx, ln.Addr().String(), "agent-0", DialOptions{RetryInterval: 10 * time.Millisecond}, quietLogger())
	defer client.Close()
	require.NoError(t, client.WaitConnected(ctx))

	var server *Conn
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("accept timed out")
	}
	defer server.Close()

	_, err = server.Send("job")
	require.NoError(t, err)
	assert.Equal(t, "job", recv(t, client))

	// Closing one side ends the other side's message stream for good.
	require.NoError(t, client.Close())
	select {
	case _, ok := <-server.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("server stream did not close")
	}
	assert.False(t, server.Connected())
}

func TestListenBindFailure(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", "first", quietLogger())
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(ln.Addr().String(), "second", quietLogger())
	assert.Error(t, err)
}

func TestAcceptStopsOnContext(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", "idle", quietLogger())
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ln.Accept(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
