// Package agent is the worker tier. An agent holds one connection to its
// orchestrator slot, queues what arrives, and runs one service subprocess
// at a time, sending each result back on the same connection.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/switchyard/internal/executor"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/queue"
	"github.com/mattjoyce/switchyard/internal/service"
	"github.com/mattjoyce/switchyard/internal/transport"
)

// ErrorPrefix starts the message of every reply the agent builds itself
// because the service could not produce one.
const ErrorPrefix = "error: "

// Resolver maps an envelope name to the service that handles it.
// *service.Registry satisfies it.
type Resolver interface {
	Resolve(name string) (*service.Service, error)
}

// Runner executes one service invocation. *executor.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, entrypoint string, req protocol.Envelope) (*executor.Result, error)
}

// Config identifies the agent and its orchestrator slot.
type Config struct {
	Index     int
	Addr      string
	DialRetry time.Duration
}

// Stats counts work handled since start.
type Stats struct {
	Received  int64
	Completed int64
	Failed    int64
	Malformed int64
	Queued    int
}

type Agent struct {
	cfg      Config
	resolver Resolver
	runner   Runner
	todo     *queue.Queue
	logger   *slog.Logger

	conn atomic.Pointer[transport.Conn]

	received  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	malformed atomic.Int64
}

func New(cfg Config, resolver Resolver, runner Runner, logger *slog.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		resolver: resolver,
		runner:   runner,
		todo:     queue.New(fmt.Sprintf("agent-%d", cfg.Index)),
		logger:   logger.With("worker", cfg.Index),
	}
}

func (a *Agent) Stats() Stats {
	return Stats{
		Received:  a.received.Load(),
		Completed: a.completed.Load(),
		Failed:    a.failed.Load(),
		Malformed: a.malformed.Load(),
		Queued:    a.todo.Depth(),
	}
}

// Run connects to the orchestrator and works until ctx ends. A dropped
// connection is redialled; envelopes already queued are still executed.
func (a *Agent) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.work(ctx)
	}()

	for ctx.Err() == nil {
		conn := transport.Dial(ctx, a.cfg.Addr, fmt.Sprintf("agent-%d", a.cfg.Index),
			transport.DialOptions{RetryInterval: a.cfg.DialRetry}, a.logger)
		a.conn.Store(conn)
		if err := conn.WaitConnected(ctx); err != nil {
			break
		}
		a.logger.Info("connected to orchestrator", "addr", a.cfg.Addr)
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		a.receive(conn)
		stop()
		if ctx.Err() == nil {
			a.logger.Warn("orchestrator connection lost, redialling", "addr", a.cfg.Addr)
		}
	}

	if c := a.conn.Load(); c != nil {
		_ = c.Close()
	}
	wg.Wait()
	st := a.Stats()
	a.logger.Info("agent stopped", "received", st.Received, "completed", st.Completed, "failed", st.Failed, "malformed", st.Malformed)
	return nil
}

func (a *Agent) receive(conn *transport.Conn) {
	for msg := range conn.Messages() {
		env, err := protocol.DecodeString(msg)
		if err == nil {
			err = env.Validate()
		}
		if err != nil {
			a.malformed.Add(1)
			a.logger.Error("malformed envelope dropped", "error", err, "bytes", len(msg))
			continue
		}
		a.received.Add(1)
		a.todo.Enqueue(env)
	}
}

func (a *Agent) work(ctx context.Context) {
	for {
		env, err := a.todo.Dequeue(ctx)
		if err != nil {
			return
		}
		reply := a.Handle(ctx, env)
		a.send(reply)
	}
}

func (a *Agent) send(reply protocol.Envelope) {
	payload, err := protocol.EncodeString(reply)
	if err != nil {
		a.logger.Error("encode reply failed", "error", err, "correlation_id", reply.CorrelationKey())
		return
	}
	conn := a.conn.Load()
	if conn == nil {
		a.logger.Warn("reply dropped: no connection", "correlation_id", reply.CorrelationKey())
		return
	}
	if _, err := conn.Send(payload); err != nil {
		a.logger.Error("send reply failed", "error", err, "correlation_id", reply.CorrelationKey())
	}
}

// Handle runs the service for req and returns the envelope to send back.
// The result always carries req's correlation id: a service answer keyed
// differently is re-keyed, and any failure becomes an error reply.
func (a *Agent) Handle(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	logger := a.logger.With("envelope", req.Name(), "correlation_id", req.CorrelationKey())

	svc, err := a.resolver.Resolve(req.Name())
	if err != nil {
		a.failed.Add(1)
		logger.Warn("no service for envelope", "error", err)
		return req.Reply(ErrorPrefix + err.Error())
	}

	res, err := a.runner.Run(ctx, svc.Entrypoint, req)
	if err != nil {
		a.failed.Add(1)
		logger.Error("service failed", "service", svc.Name, "error", err, "kind", failureKind(err))
		return req.Reply(ErrorPrefix + failureKind(err) + ": " + svc.Name)
	}

	a.completed.Add(1)
	out := res.Envelope
	if out.Kind() != req.Kind() || out.CorrelationKey() != req.CorrelationKey() {
		logger.Debug("re-keying service result", "service", svc.Name, "result_kind", out.Kind())
		out = req.Reply(out.Message())
	}
	logger.Info("service completed", "service", svc.Name, "exit_code", res.ExitCode, "duration_ms", res.Duration.Milliseconds())
	return out
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, executor.ErrLaunchFailure):
		return "launch failure"
	case errors.Is(err, executor.ErrCaptureFailure):
		return "capture failure"
	case errors.Is(err, executor.ErrResultFormatFailure):
		return "result format failure"
	default:
		return "service failure"
	}
}
