package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/bridge/mocks"
	"github.com/mattjoyce/switchyard/internal/correlation"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	msgs    chan string
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan string, 8)}
}

func (c *fakeConn) SendStrict(msg string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	c.sent = append(c.sent, msg)
	return len(msg), nil
}

func (c *fakeConn) Messages() <-chan string { return c.msgs }

func (c *fakeConn) lastSent(t *testing.T) protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	env, err := protocol.DecodeString(c.sent[len(c.sent)-1])
	require.NoError(t, err)
	return env
}

func discordReply(t *testing.T, id uint64, text string) string {
	t.Helper()
	s, err := protocol.EncodeString(protocol.NewDiscord("ping", text, id, "", ""))
	require.NoError(t, err)
	return s
}

func TestSubmitBuildsDiscordEnvelope(t *testing.T) {
	conn := newFakeConn()
	b := New(conn, Options{}, quietLogger())

	err := b.Submit(Command{ID: 42, Name: "ping", Options: []string{"A", "B"}, Reply: mocks.NewMockReplier(gomock.NewController(t))})
	require.NoError(t, err)

	env := conn.lastSent(t)
	d, ok := env.Discord()
	require.True(t, ok)
	assert.Equal(t, uint64(42), d.ID)
	assert.Equal(t, "A<|OS|>B", d.Options)
	assert.Equal(t, protocol.DefaultOptionSeparator, d.OptionSeparator)
	assert.Equal(t, []string{"A", "B"}, env.Options())
	assert.Equal(t, 1, b.Pending())
}

func TestSubmitRejectsZeroID(t *testing.T) {
	b := New(newFakeConn(), Options{}, quietLogger())
	err := b.Submit(Command{Name: "ping"})
	require.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
	assert.Zero(t, b.Pending())
}

func TestSubmitDuplicateIDKeepsFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := mocks.NewMockReplier(ctrl)
	second := mocks.NewMockReplier(ctrl)
	first.EXPECT().SendReply(gomock.Any(), "pong").Return(nil)

	b := New(newFakeConn(), Options{}, quietLogger())
	require.NoError(t, b.Submit(Command{ID: 7, Name: "ping", Reply: first}))
	err := b.Submit(Command{ID: 7, Name: "ping", Reply: second})
	require.ErrorIs(t, err, correlation.ErrDuplicateCorrelation)

	b.Deliver(context.Background(), discordReply(t, 7, "pong"))
	assert.Zero(t, b.Pending())
}

func TestSubmitSendFailureReleasesPending(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = transport.ErrNotConnected
	b := New(conn, Options{}, quietLogger())

	err := b.Submit(Command{ID: 42, Name: "ping", Reply: mocks.NewMockReplier(gomock.NewController(t))})
	require.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Zero(t, b.Pending())
}

func TestDeliverRoutesReplyByID(t *testing.T) {
	ctrl := gomock.NewController(t)
	r42 := mocks.NewMockReplier(ctrl)
	r43 := mocks.NewMockReplier(ctrl)
	r42.EXPECT().SendReply(gomock.Any(), "pong 42").Return(nil).Times(1)
	r43.EXPECT().SendReply(gomock.Any(), "pong 43").Return(nil).Times(1)

	b := New(newFakeConn(), Options{}, quietLogger())
	require.NoError(t, b.Submit(Command{ID: 42, Name: "ping", Reply: r42}))
	require.NoError(t, b.Submit(Command{ID: 43, Name: "ping", Reply: r43}))

	b.Deliver(context.Background(), discordReply(t, 43, "pong 43"))
	b.Deliver(context.Background(), discordReply(t, 42, "pong 42"))
	// A second result for the same id finds nothing pending.
	b.Deliver(context.Background(), discordReply(t, 42, "pong 42"))

	assert.Zero(t, b.Pending())
}

func TestDeliverUnknownIDDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)

	b := New(newFakeConn(), Options{}, quietLogger())
	require.NoError(t, b.Submit(Command{ID: 42, Name: "ping", Reply: r}))

	b.Deliver(context.Background(), discordReply(t, 999, "stray"))
	assert.Equal(t, 1, b.Pending())
}

func TestDeliverSuffixReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	r.EXPECT().SendReply(gomock.Any(), "plain text result").Return(nil)

	b := New(newFakeConn(), Options{}, quietLogger())
	require.NoError(t, b.Submit(Command{ID: 42, Name: "ping", Reply: r}))

	b.Deliver(context.Background(), correlation.FormatSuffix("plain text result", 42))
	assert.Zero(t, b.Pending())
}

func TestDeliverNonDiscordAndGarbageDropped(t *testing.T) {
	b := New(newFakeConn(), Options{}, quietLogger())
	require.NoError(t, b.Submit(Command{ID: 42, Name: "ping", Reply: mocks.NewMockReplier(gomock.NewController(t))}))

	base, err := protocol.EncodeString(protocol.NewBase("ping", "no id"))
	require.NoError(t, err)
	b.Deliver(context.Background(), base)
	b.Deliver(context.Background(), "not json and no marker")

	assert.Equal(t, 1, b.Pending())
}

type chanSource chan Command

func (s chanSource) Commands() <-chan Command { return s }

func TestRunRelaysCommandsAndReplies(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	replied := make(chan struct{})
	r.EXPECT().SendReply(gomock.Any(), "pong").DoAndReturn(func(context.Context, string) error {
		close(replied)
		return nil
	})

	conn := newFakeConn()
	b := New(conn, Options{}, quietLogger())
	src := make(chanSource)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, src) }()

	src <- Command{ID: 42, Name: "ping", Reply: r}
	require.Eventually(t, func() bool { return b.Pending() == 1 }, time.Second, 5*time.Millisecond)
	conn.msgs <- discordReply(t, 42, "pong")

	select {
	case <-replied:
	case <-time.After(2 * time.Second):
		t.Fatal("reply not delivered")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRunSweepsExpiredCommands(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	replied := make(chan struct{})
	r.EXPECT().SendReply(gomock.Any(), "too slow").DoAndReturn(func(context.Context, string) error {
		close(replied)
		return nil
	})

	b := New(newFakeConn(), Options{PendingTTL: 20 * time.Millisecond, TimeoutReply: "too slow"}, quietLogger())
	src := make(chanSource)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx, src) }()

	src <- Command{ID: 42, Name: "slow", Reply: r}
	select {
	case <-replied:
	case <-time.After(2 * time.Second):
		t.Fatal("expired command not answered")
	}
	assert.Zero(t, b.Pending())
}

func TestRunSlowReplierDoesNotBlockOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	slow := mocks.NewMockReplier(ctrl)
	fast := mocks.NewMockReplier(ctrl)

	release := make(chan struct{})
	slowDone := make(chan struct{})
	slow.EXPECT().SendReply(gomock.Any(), "first").DoAndReturn(func(context.Context, string) error {
		defer close(slowDone)
		<-release
		return nil
	})
	fastDone := make(chan struct{})
	fast.EXPECT().SendReply(gomock.Any(), "second").DoAndReturn(func(context.Context, string) error {
		close(fastDone)
		return nil
	})

	conn := newFakeConn()
	b := New(conn, Options{}, quietLogger())
	src := make(chanSource)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, src) }()

	src <- Command{ID: 1, Name: "ping", Reply: slow}
	src <- Command{ID: 2, Name: "ping", Reply: fast}
	require.Eventually(t, func() bool { return b.Pending() == 2 }, time.Second, 5*time.Millisecond)

	conn.msgs <- discordReply(t, 1, "first")
	conn.msgs <- discordReply(t, 2, "second")

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reply for id 2 held up behind id 1")
	}
	select {
	case <-slowDone:
		t.Fatal("slow reply finished before release")
	default:
	}

	close(release)
	cancel()
	require.NoError(t, <-done)
	select {
	case <-slowDone:
	default:
		t.Fatal("Run returned before the slow reply finished")
	}
}

func TestRunTinyTTLStillSweeps(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	replied := make(chan struct{})
	r.EXPECT().SendReply(gomock.Any(), "request timed out").DoAndReturn(func(context.Context, string) error {
		close(replied)
		return nil
	})

	b := New(newFakeConn(), Options{PendingTTL: time.Nanosecond}, quietLogger())
	src := make(chanSource)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, src) }()

	src <- Command{ID: 9, Name: "slow", Reply: r}
	select {
	case <-replied:
	case <-time.After(2 * time.Second):
		t.Fatal("expired command not answered")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRunRepliesWhenSubmitFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := mocks.NewMockReplier(ctrl)
	replied := make(chan string, 1)
	r.EXPECT().SendReply(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, text string) error {
		replied <- text
		return nil
	})

	conn := newFakeConn()
	conn.sendErr = fmt.Errorf("link down: %w", transport.ErrNotConnected)
	b := New(conn, Options{}, quietLogger())
	src := make(chanSource, 1)
	src <- Command{ID: 42, Name: "ping", Reply: r}
	close(src)

	require.NoError(t, b.Run(context.Background(), src))
	assert.Contains(t, <-replied, "could not be submitted")
}

func TestRunStopsWhenOrchestratorCloses(t *testing.T) {
	conn := newFakeConn()
	close(conn.msgs)
	b := New(conn, Options{}, quietLogger())

	err := b.Run(context.Background(), make(chanSource))
	require.Error(t, err)
}
