package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/switchyard/internal/correlation"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/transport"
)

// FrontDoor accepts bridge connections, feeds their envelopes to the pool
// and returns completed results to whichever connection asked.
type FrontDoor struct {
	ln      *transport.Listener
	pool    *Pool
	pending *correlation.Router[string, *transport.Conn]
	obs     Observers
	logger  *slog.Logger
}

// NewFrontDoor binds addr. A bind failure should abort startup.
func NewFrontDoor(addr string, pool *Pool, obs Observers, logger *slog.Logger) (*FrontDoor, error) {
	ln, err := transport.Listen(addr, "front-door", logger)
	if err != nil {
		return nil, err
	}
	return &FrontDoor{
		ln:      ln,
		pool:    pool,
		pending: correlation.New[string, *transport.Conn](logger),
		obs:     obs,
		logger:  logger,
	}, nil
}

// Addr is the bound front-door address.
func (f *FrontDoor) Addr() string { return f.ln.Addr().String() }

// Pending reports how many requests await a result.
func (f *FrontDoor) Pending() int { return f.pending.Len() }

// Run accepts bridges and drains the done queue until ctx ends.
func (f *FrontDoor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.drain(ctx)
	}()

	defer wg.Wait()
	defer f.ln.Close()

	f.logger.Info("front door listening", "addr", f.Addr())
	for {
		conn, err := f.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("front door: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.serve(ctx, conn)
		}()
	}
}

func (f *FrontDoor) serve(ctx context.Context, conn *transport.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	f.logger.Info("bridge connected")
	for msg := range conn.Messages() {
		f.accept(conn, msg)
	}
	f.logger.Info("bridge disconnected")
}

// accept handles one request from a bridge connection.
func (f *FrontDoor) accept(conn *transport.Conn, msg string) {
	env, err := protocol.DecodeString(msg)
	if err != nil {
		f.logger.Error("malformed request dropped", "error", err, "bytes", len(msg))
		f.obs.envelope(f.logger, journal.StageDropped, protocol.NewBase("", msg), journal.NoWorker, err.Error())
		return
	}
	if err := env.Validate(); err != nil {
		f.logger.Error("invalid request dropped", "name", env.Name(), "error", err)
		f.obs.envelope(f.logger, journal.StageDropped, env, journal.NoWorker, err.Error())
		return
	}

	if key := env.CorrelationKey(); key != "" {
		if err := f.pending.AddPending(key, conn); err != nil {
			f.obs.envelope(f.logger, journal.StageDropped, env, journal.NoWorker, err.Error())
			return
		}
	} else {
		f.logger.Warn("request has no correlation id, its result cannot be returned", "name", env.Name())
	}

	if err := f.pool.Submit(env); err != nil {
		_, _ = f.pending.Resolve(env.CorrelationKey())
	}
}

func (f *FrontDoor) drain(ctx context.Context) {
	for {
		env, err := f.pool.Done().Dequeue(ctx)
		if err != nil {
			return
		}
		f.route(env)
	}
}

// route sends a completed result back to the connection that submitted it.
func (f *FrontDoor) route(env protocol.Envelope) {
	logger := f.logger.With("name", env.Name(), "correlation_id", env.CorrelationKey())

	if env.Kind() != protocol.KindDiscord {
		logger.Error("only discord results can be returned to the bridge", "kind", env.Kind().String())
		if key := env.CorrelationKey(); key != "" {
			_, _ = f.pending.Resolve(key)
		}
		f.obs.envelope(f.logger, journal.StageDropped, env, journal.NoWorker, "non-discord result")
		return
	}

	conn, err := f.pending.Resolve(env.CorrelationKey())
	if err != nil {
		f.obs.envelope(f.logger, journal.StageDropped, env, journal.NoWorker, err.Error())
		return
	}

	payload, err := protocol.EncodeString(env)
	if err != nil {
		logger.Error("failed to encode result", "error", err)
		return
	}
	if _, err := conn.SendStrict(payload); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			logger.Warn("bridge went away before its result arrived")
		} else {
			logger.Error("failed to send result to bridge", "error", err)
		}
		f.obs.envelope(f.logger, journal.StageDropped, env, journal.NoWorker, err.Error())
		return
	}
	logger.Debug("result returned to bridge")
}
