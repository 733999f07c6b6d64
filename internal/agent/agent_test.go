package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/executor"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/service"
	"github.com/mattjoyce/switchyard/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mapResolver map[string]*service.Service

func (m mapResolver) Resolve(name string) (*service.Service, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w %q", service.ErrNoService, name)
}

type runnerFunc func(ctx context.Context, entrypoint string, req protocol.Envelope) (*executor.Result, error)

func (f runnerFunc) Run(ctx context.Context, entrypoint string, req protocol.Envelope) (*executor.Result, error) {
	return f(ctx, entrypoint, req)
}

func echoRunner() runnerFunc {
	return func(_ context.Context, _ string, req protocol.Envelope) (*executor.Result, error) {
		return &executor.Result{Envelope: req.Reply("echo " + req.Message())}, nil
	}
}

var echoSvc = mapResolver{"ping": {Name: "ping", Entrypoint: "/bin/true"}}

func TestHandleEchoKeepsCorrelation(t *testing.T) {
	a := New(Config{Index: 0}, echoSvc, echoRunner(), quietLogger())

	req := protocol.NewDiscord("ping", "hi", 42, "A<|OS|>B", protocol.DefaultOptionSeparator)
	out := a.Handle(context.Background(), req)

	d, ok := out.Discord()
	require.True(t, ok)
	assert.Equal(t, uint64(42), d.ID)
	assert.Equal(t, "echo hi", out.Message())
	assert.Equal(t, int64(1), a.Stats().Completed)
}

func TestHandleReKeysBaseResult(t *testing.T) {
	runner := runnerFunc(func(context.Context, string, protocol.Envelope) (*executor.Result, error) {
		return &executor.Result{Envelope: protocol.NewBase("ping", "plain")}, nil
	})
	a := New(Config{}, echoSvc, runner, quietLogger())

	guid := uuid.New()
	out := a.Handle(context.Background(), protocol.NewNormal("ping", "", guid))

	n, ok := out.Normal()
	require.True(t, ok)
	assert.Equal(t, guid, n.GUID)
	assert.Equal(t, "plain", out.Message())
}

func TestHandleReKeysWrongID(t *testing.T) {
	runner := runnerFunc(func(context.Context, string, protocol.Envelope) (*executor.Result, error) {
		return &executor.Result{Envelope: protocol.NewDiscord("ping", "pong", 7, "", "")}, nil
	})
	a := New(Config{}, echoSvc, runner, quietLogger())

	out := a.Handle(context.Background(), protocol.NewDiscord("ping", "", 42, "", ""))
	assert.Equal(t, "42", out.CorrelationKey())
	assert.Equal(t, "pong", out.Message())
}

func TestHandleFailuresBecomeErrorReplies(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"launch", &executor.LaunchError{Entrypoint: "x", Err: os.ErrNotExist}, "launch failure"},
		{"capture", &executor.CaptureError{Entrypoint: "x", Err: context.DeadlineExceeded}, "capture failure"},
		{"format", &executor.ResultFormatError{Entrypoint: "x", Err: executor.ErrEmptyOutput}, "result format failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := runnerFunc(func(context.Context, string, protocol.Envelope) (*executor.Result, error) {
				return nil, tt.err
			})
			a := New(Config{}, echoSvc, runner, quietLogger())

			out := a.Handle(context.Background(), protocol.NewDiscord("ping", "", 42, "", ""))
			assert.Equal(t, "42", out.CorrelationKey())
			assert.Contains(t, out.Message(), ErrorPrefix+tt.wantMsg)
			assert.Equal(t, int64(1), a.Stats().Failed)
		})
	}
}

func TestHandleUnknownService(t *testing.T) {
	a := New(Config{}, mapResolver{}, echoRunner(), quietLogger())

	out := a.Handle(context.Background(), protocol.NewDiscord("nope", "", 42, "", ""))
	assert.Equal(t, "42", out.CorrelationKey())
	assert.Contains(t, out.Message(), ErrorPrefix)
	assert.Contains(t, out.Message(), "nope")
}

// slotListener stands in for one orchestrator worker slot.
func slotListener(t *testing.T) (*transport.Listener, string) {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0", "slot", quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().String()
}

func startAgent(t *testing.T, addr string, runner Runner) (*Agent, context.CancelFunc) {
	t.Helper()
	a := New(Config{Index: 0, Addr: addr, DialRetry: 10 * time.Millisecond}, echoSvc, runner, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return a, cancel
}

func sendEnvelope(t *testing.T, c *transport.Conn, env protocol.Envelope) {
	t.Helper()
	s, err := protocol.EncodeString(env)
	require.NoError(t, err)
	_, err = c.SendStrict(s)
	require.NoError(t, err)
}

func nextReply(t *testing.T, c *transport.Conn) protocol.Envelope {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "agent connection closed")
		env, err := protocol.DecodeString(msg)
		require.NoError(t, err)
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no reply from agent")
		return protocol.Envelope{}
	}
}

func TestRunRepliesInOrderOverSocket(t *testing.T) {
	ln, addr := slotListener(t)
	startAgent(t, addr, echoRunner())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	for id := uint64(1); id <= 3; id++ {
		sendEnvelope(t, conn, protocol.NewDiscord("ping", fmt.Sprint(id), id, "", ""))
	}
	for id := uint64(1); id <= 3; id++ {
		out := nextReply(t, conn)
		assert.Equal(t, fmt.Sprint(id), out.CorrelationKey())
		assert.Equal(t, "echo "+fmt.Sprint(id), out.Message())
	}
}

func TestRunDropsMalformedAndContinues(t *testing.T) {
	ln, addr := slotListener(t)
	a, _ := startAgent(t, addr, echoRunner())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.SendStrict(`{"name":"ping"}`)
	require.NoError(t, err)
	sendEnvelope(t, conn, protocol.NewDiscord("ping", "ok", 0, "", ""))
	sendEnvelope(t, conn, protocol.NewDiscord("ping", "ok", 5, "", ""))

	out := nextReply(t, conn)
	assert.Equal(t, "5", out.CorrelationKey())
	assert.Equal(t, int64(2), a.Stats().Malformed)
}

func TestRunRedialsAfterDisconnect(t *testing.T) {
	ln, addr := slotListener(t)
	startAgent(t, addr, echoRunner())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := ln.Accept(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer second.Close()

	sendEnvelope(t, second, protocol.NewDiscord("ping", "again", 9, "", ""))
	assert.Equal(t, "echo again", nextReply(t, second).Message())
}

func TestRunWithSubprocessService(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "echo.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf '%s' \"$1\"\n"), 0o755))
	resolver := mapResolver{"echo": {Name: "echo", Entrypoint: script}}

	ln, addr := slotListener(t)
	a := New(Config{Addr: addr, DialRetry: 10 * time.Millisecond}, resolver, executor.New(executor.Options{}, quietLogger()), quietLogger())
	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(runCtx)
	}()
	defer func() {
		stop()
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	sendEnvelope(t, conn, protocol.NewDiscord("echo", "hello", 42, "A<|OS|>B", protocol.DefaultOptionSeparator))
	out := nextReply(t, conn)
	assert.Equal(t, "42", out.CorrelationKey())
	assert.Equal(t, "hello", out.Message())
}
