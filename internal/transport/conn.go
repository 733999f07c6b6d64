package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// ErrNotConnected is returned by SendStrict before the peer is attached.
var ErrNotConnected = errors.New("transport not connected")

// Conn is a duplex sentinel-framed connection. The zero value is not usable;
// Conns are produced by Listener.Accept and Dial.
type Conn struct {
	name    string
	logger  *slog.Logger
	bufSize int

	wmu     sync.Mutex // serializes writes
	stateMu sync.Mutex // guards nc
	nc      net.Conn

	connected chan struct{}
	connOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	msgs      chan string

	acks    atomic.Int64
	dropped atomic.Int64
}

func newConn(name string, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		name:      name,
		logger:    logger.With("conn", name),
		bufSize:   DefaultBufferSize,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		msgs:      make(chan string, 64),
	}
}

// attach binds the live socket and starts the receive loop. Only the first
// call has any effect.
func (c *Conn) attach(nc net.Conn) {
	c.connOnce.Do(func() {
		c.stateMu.Lock()
		c.nc = nc
		c.stateMu.Unlock()
		close(c.connected)
		c.logger.Info("connection established", "remote", nc.RemoteAddr().String())
		go c.readLoop()
	})
}

// Name identifies the connection in logs.
func (c *Conn) Name() string { return c.name }

// Connected reports whether a peer is attached and the connection is open.
func (c *Conn) Connected() bool {
	select {
	case <-c.done:
		return false
	case <-c.connected:
		return true
	default:
		return false
	}
}

// WaitConnected blocks until the peer is attached, the connection closes, or
// ctx ends.
func (c *Conn) WaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes msg followed by the end-of-message marker. When no peer is
// attached yet the message is dropped and logged, and Send reports 0 bytes
// without an error.
func (c *Conn) Send(msg string) (int, error) {
	n, err := c.SendStrict(msg)
	if errors.Is(err, ErrNotConnected) {
		c.dropped.Add(1)
		c.logger.Warn("send dropped: not connected", "bytes", len(msg))
		return 0, nil
	}
	return n, err
}

// SendStrict is Send but surfaces ErrNotConnected.
func (c *Conn) SendStrict(msg string) (int, error) {
	return c.write(Frame(msg))
}

// Ack writes the bare acknowledgement sentinel.
func (c *Conn) Ack() error {
	_, err := c.write([]byte(ACK))
	return err
}

// Shutdown writes the bare shutdown sentinel.
func (c *Conn) Shutdown() error {
	_, err := c.write([]byte(SDW))
	return err
}

func (c *Conn) write(b []byte) (int, error) {
	if !c.Connected() {
		return 0, ErrNotConnected
	}
	c.stateMu.Lock()
	nc := c.nc
	c.stateMu.Unlock()

	c.wmu.Lock()
	defer c.wmu.Unlock()
	n, err := nc.Write(b)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", c.name, err)
	}
	c.logger.Debug("sent frame", "bytes", n)
	return n, nil
}

// Messages yields received messages. The channel is closed when the
// connection ends and is never reopened.
func (c *Conn) Messages() <-chan string {
	return c.msgs
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Acks reports how many acknowledgement sentinels were received.
func (c *Conn) Acks() int64 { return c.acks.Load() }

// Dropped reports how many sends were dropped before connect.
func (c *Conn) Dropped() int64 { return c.dropped.Load() }

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.stateMu.Lock()
		nc := c.nc
		c.stateMu.Unlock()
		if nc != nil {
			err = nc.Close()
		}
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.msgs)
	defer c.Close()

	var d deframer
	buf := make([]byte, c.bufSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			msgs, signals := d.feed(buf[:n])
			for _, sig := range signals {
				c.handleSignal(sig)
			}
			for _, m := range msgs {
				c.logger.Debug("received message", "bytes", len(m))
				select {
				case c.msgs <- m:
				case <-c.done:
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.logger.Info("connection closed", "unframed_bytes", d.pending())
			} else {
				c.logger.Warn("connection read failed", "error", err)
			}
			return
		}
	}
}

func (c *Conn) handleSignal(sig Signal) {
	switch sig {
	case SignalAck:
		c.acks.Add(1)
		c.logger.Info("ACK")
	case SignalShutdown:
		// Placeholder: the peer asked us to shut down; nothing is torn down yet.
		c.logger.Info("shutdown sentinel received")
	}
}
