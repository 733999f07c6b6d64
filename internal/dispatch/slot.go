package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/queue"
	"github.com/mattjoyce/switchyard/internal/transport"
)

// slot is one worker endpoint. The listener lives for the life of the
// pool; connections come and go as the worker restarts.
type slot struct {
	index  int
	ln     *transport.Listener
	done   *queue.Queue
	obs    Observers
	logger *slog.Logger

	mu      sync.Mutex
	conn    *transport.Conn
	backlog []string

	assigned  atomic.Int64
	completed atomic.Int64
	malformed atomic.Int64
}

// SlotStats is a point-in-time view of one worker slot.
type SlotStats struct {
	Index     int    `json:"index"`
	Addr      string `json:"addr"`
	Connected bool   `json:"connected"`
	Assigned  int64  `json:"assigned"`
	Completed int64  `json:"completed"`
	Malformed int64  `json:"malformed"`
	Backlog   int    `json:"backlog"`
}

func (s *slot) stats() SlotStats {
	s.mu.Lock()
	connected := s.conn != nil && s.conn.Connected()
	backlog := len(s.backlog)
	s.mu.Unlock()
	return SlotStats{
		Index:     s.index,
		Addr:      s.ln.Addr().String(),
		Connected: connected,
		Assigned:  s.assigned.Load(),
		Completed: s.completed.Load(),
		Malformed: s.malformed.Load(),
		Backlog:   backlog,
	}
}

// deliver sends payload to the worker, or backlogs it while no worker is
// attached.
func (s *slot) deliver(payload string) {
	s.assigned.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || !s.conn.Connected() {
		s.backlog = append(s.backlog, payload)
		s.logger.Debug("worker not connected, message backlogged", "backlog", len(s.backlog))
		return
	}
	if _, err := s.conn.SendStrict(payload); err != nil {
		s.backlog = append(s.backlog, payload)
		if !errors.Is(err, transport.ErrNotConnected) {
			s.logger.Warn("send to worker failed, message backlogged", "error", err)
		}
	}
}

// serve accepts worker connections until ctx ends. A new connection
// replaces the previous one.
func (s *slot) serve(ctx context.Context) {
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("accept failed", "error", err)
			return
		}
		s.attach(conn)
		s.obs.workerConnected(s.index, s.ln.Addr().String())
		go s.receive(conn)
	}
}

func (s *slot) attach(conn *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.logger.Info("worker reconnected, replacing previous connection")
		_ = s.conn.Close()
	}
	s.conn = conn

	flushed := 0
	for len(s.backlog) > 0 {
		if _, err := conn.SendStrict(s.backlog[0]); err != nil {
			s.logger.Warn("backlog flush interrupted", "remaining", len(s.backlog), "error", err)
			break
		}
		s.backlog[0] = ""
		s.backlog = s.backlog[1:]
		flushed++
	}
	s.logger.Info("worker connected", "flushed", flushed)
}

// receive pushes every decodable reply onto the done queue.
func (s *slot) receive(conn *transport.Conn) {
	for msg := range conn.Messages() {
		env, err := protocol.DecodeString(msg)
		if err != nil {
			s.malformed.Add(1)
			s.logger.Error("malformed reply from worker dropped", "error", err, "bytes", len(msg))
			s.obs.envelope(s.logger, journal.StageDropped, protocol.NewBase("", msg), s.index, err.Error())
			continue
		}
		s.completed.Add(1)
		s.done.Enqueue(env)
		s.obs.envelope(s.logger, journal.StageCompleted, env, s.index, "")
	}
	s.logger.Info("worker connection closed")
}

func (s *slot) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
