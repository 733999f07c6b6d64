package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/queue"
	"github.com/mattjoyce/switchyard/internal/transport"
)

// Pool assigns envelopes round-robin across a fixed set of worker slots.
type Pool struct {
	slots  []*slot
	todo   *queue.Queue
	done   *queue.Queue
	obs    Observers
	logger *slog.Logger

	// cursor counts assignments; cursor-1 mod N is the last slot used.
	cursor atomic.Uint64

	startOnce sync.Once
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Todo    int         `json:"todo"`
	Done    int         `json:"done"`
	Workers []SlotStats `json:"workers"`
}

// NewPool binds one listener per address. Any bind failure closes what was
// already bound and is returned; the caller should abort startup.
func NewPool(addrs []string, obs Observers, logger *slog.Logger) (*Pool, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("worker pool needs at least one slot")
	}
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}

	p := &Pool{
		todo:   queue.New("todo"),
		done:   queue.New("done"),
		obs:    obs,
		logger: logger,
	}
	for i, addr := range addrs {
		slotLogger := logger.With("worker", i)
		ln, err := transport.Listen(addr, fmt.Sprintf("worker-%d", i), slotLogger)
		if err != nil {
			p.close()
			return nil, err
		}
		p.slots = append(p.slots, &slot{
			index:  i,
			ln:     ln,
			done:   p.done,
			obs:    obs,
			logger: slotLogger,
		})
		logger.Info("worker slot listening", "worker", i, "addr", ln.Addr().String())
	}
	return p, nil
}

// Size is the fixed number of worker slots.
func (p *Pool) Size() int { return len(p.slots) }

// Addrs returns the bound worker addresses in slot order.
func (p *Pool) Addrs() []string {
	out := make([]string, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.ln.Addr().String()
	}
	return out
}

// Submit validates env and queues it for dispatch.
func (p *Pool) Submit(env protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		p.logger.Warn("rejected envelope", "name", env.Name(), "error", err)
		p.obs.envelope(p.logger, journal.StageDropped, env, journal.NoWorker, err.Error())
		return err
	}
	p.obs.envelope(p.logger, journal.StageAccepted, env, journal.NoWorker, "")
	p.todo.Enqueue(env)
	return nil
}

// Done is the queue of replies received from workers.
func (p *Pool) Done() *queue.Queue { return p.done }

// Stats reports queue depths and per-slot counters.
func (p *Pool) Stats() Stats {
	st := Stats{Todo: p.todo.Depth(), Done: p.done.Depth(), Workers: make([]SlotStats, len(p.slots))}
	for i, s := range p.slots {
		st.Workers[i] = s.stats()
	}
	return st
}

// Start accepts workers on every slot and runs the dispatch loop until ctx
// ends. It may be called once.
func (p *Pool) Start(ctx context.Context) error {
	started := false
	p.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("worker pool already started")
	}

	var wg sync.WaitGroup
	for _, s := range p.slots {
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			s.serve(ctx)
		}(s)
	}

	p.logger.Info("dispatch loop started", "workers", len(p.slots))
	defer p.logger.Info("dispatch loop stopped")
	defer func() {
		p.close()
		wg.Wait()
	}()

	for {
		env, err := p.todo.Dequeue(ctx)
		if err != nil {
			return nil
		}
		p.dispatch(env)
	}
}

func (p *Pool) dispatch(env protocol.Envelope) {
	payload, err := protocol.EncodeString(env)
	if err != nil {
		p.logger.Error("failed to encode envelope", "name", env.Name(), "error", err)
		p.obs.envelope(p.logger, journal.StageDropped, env, journal.NoWorker, err.Error())
		return
	}

	i := p.next()
	p.logger.Debug("dispatching envelope", "name", env.Name(), "correlation_id", env.CorrelationKey(), "worker", i)
	p.obs.envelope(p.logger, journal.StageDispatched, env, i, "")
	p.slots[i].deliver(payload)
}

// next advances the cursor and wraps it onto a slot index.
func (p *Pool) next() int {
	n := p.cursor.Add(1)
	return int((n - 1) % uint64(len(p.slots)))
}

func (p *Pool) close() {
	for _, s := range p.slots {
		s.close()
	}
}
