package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Listener accepts sentinel-framed connections on one fixed endpoint.
type Listener struct {
	ln     net.Listener
	name   string
	logger *slog.Logger
}

// Listen binds addr. A bind failure is the one fatal transport error: the
// caller is expected to abort startup.
func Listen(addr, name string, logger *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{ln: ln, name: name, logger: logger}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next peer. It returns ctx.Err() once ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	nc, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept %s: %w", l.name, err)
	}
	c := newConn(l.name, l.logger)
	c.attach(nc)
	return c, nil
}

// Close stops accepting.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DialOptions tunes Dial.
type DialOptions struct {
	// RetryInterval is the pause between connection attempts.
	RetryInterval time.Duration
	// Timeout bounds each individual attempt.
	Timeout time.Duration
}

// Dial returns immediately with an unconnected Conn and connects in the
// background, retrying until it succeeds or ctx ends. Messages sent before
// the connection is up are dropped.
func Dial(ctx context.Context, addr, name string, opts DialOptions, logger *slog.Logger) *Conn {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	c := newConn(name, logger)
	go func() {
		d := net.Dialer{Timeout: opts.Timeout}
		attempt := 0
		for {
			attempt++
			nc, err := d.DialContext(ctx, "tcp", addr)
			if err == nil {
				c.attach(nc)
				return
			}
			c.logger.Debug("dial failed, retrying", "addr", addr, "attempt", attempt, "error", err)

			t := time.NewTimer(opts.RetryInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				_ = c.Close()
				return
			case <-c.done:
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
	return c
}

// Pair returns two attached Conns joined by an in-memory pipe. Used by
// tests and in-process wiring.
func Pair(name string, logger *slog.Logger) (*Conn, *Conn) {
	a, b := net.Pipe()
	ca := newConn(name+"/a", logger)
	cb := newConn(name+"/b", logger)
	ca.attach(a)
	cb.attach(b)
	return ca, cb
}
