// Package scheduler issues chat commands on a timer. It is a
// bridge.CommandSource, so scheduled runs travel the same path as
// commands typed by a user and their replies are logged.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/switchyard/internal/bridge"
)

// Schedule fires Command every Every plus up to Jitter.
type Schedule struct {
	Name    string
	Command string
	Message string
	Options []string
	Every   time.Duration
	Jitter  time.Duration
}

// Scheduler runs a fixed set of schedules.
type Scheduler struct {
	schedules []Schedule
	ids       *bridge.IDs
	commands  chan bridge.Command
	logger    *slog.Logger

	// jitter returns a duration in [0, n). Replaced in tests.
	jitter func(n int64) int64
}

// New creates a Scheduler. ids should be shared with the other sources
// feeding the same bridge; nil gets a private generator.
func New(schedules []Schedule, ids *bridge.IDs, logger *slog.Logger) *Scheduler {
	if ids == nil {
		ids = bridge.NewIDs()
	}
	return &Scheduler{
		schedules: schedules,
		ids:       ids,
		commands:  make(chan bridge.Command),
		logger:    logger.With("component", "scheduler"),
		jitter:    rand.Int63n,
	}
}

func (s *Scheduler) Commands() <-chan bridge.Command { return s.commands }

// Run fires every schedule until ctx ends, then closes Commands.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler", "schedules", len(s.schedules))

	var wg sync.WaitGroup
	for _, sch := range s.schedules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, sch)
		}()
	}
	wg.Wait()
	close(s.commands)

	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// loop fires once immediately, then after each jittered interval. A run
// whose reply has not arrived suppresses the next one.
func (s *Scheduler) loop(ctx context.Context, sch Schedule) {
	logger := s.logger.With("schedule", sch.Name, "command", sch.Command)
	var outstanding atomic.Bool

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if outstanding.Load() {
			logger.Info("skipped scheduled run", "reason", "previous_run_outstanding")
		} else {
			outstanding.Store(true)
			cmd := bridge.Command{
				ID:      s.ids.Next(),
				Name:    sch.Command,
				Message: sch.Message,
				Options: sch.Options,
				Reply:   &scheduleReply{outstanding: &outstanding, logger: logger},
			}
			select {
			case s.commands <- cmd:
				logger.Debug("scheduled run issued", "correlation_id", cmd.ID)
			case <-ctx.Done():
				return
			}
		}

		timer.Reset(s.interval(sch))
	}
}

func (s *Scheduler) interval(sch Schedule) time.Duration {
	if sch.Jitter <= 0 {
		return sch.Every
	}
	return sch.Every + time.Duration(s.jitter(sch.Jitter.Nanoseconds()))
}

// scheduleReply logs the reply and re-arms its schedule.
type scheduleReply struct {
	outstanding *atomic.Bool
	logger      *slog.Logger
}

func (r *scheduleReply) SendReply(_ context.Context, text string) error {
	r.outstanding.Store(false)
	r.logger.Info("scheduled run replied", "reply", text)
	return nil
}
