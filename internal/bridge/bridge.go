// Package bridge turns chat commands into envelopes and envelopes back into
// chat replies. The chat platform itself sits behind two small interfaces:
// a CommandSource that produces commands and a Replier per command that
// answers it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/switchyard/internal/correlation"
	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/transport"
)

//go:generate mockgen -destination=mocks/mock_bridge.go -package=mocks github.com/mattjoyce/switchyard/internal/bridge Replier

// Replier answers one chat command.
type Replier interface {
	SendReply(ctx context.Context, text string) error
}

// CommandSource produces chat commands. The channel closes when the source
// shuts down.
type CommandSource interface {
	Commands() <-chan Command
}

// Command is one chat invocation. ID must be unique among unanswered
// commands and non-zero.
type Command struct {
	ID      uint64
	Name    string
	Message string
	Options []string
	Reply   Replier
}

// Conn is the orchestrator link. *transport.Conn satisfies it.
type Conn interface {
	SendStrict(msg string) (int, error)
	Messages() <-chan string
}

// Options tunes a Bridge.
type Options struct {
	// OptionSeparator joins Command.Options on the wire.
	OptionSeparator string
	// PendingTTL fails commands left unanswered this long. Zero waits forever.
	PendingTTL time.Duration
	// TimeoutReply is sent to expired commands.
	TimeoutReply string
}

// minSweepInterval bounds how often expired commands are swept.
const minSweepInterval = 10 * time.Millisecond

// Bridge relays commands to the orchestrator and routes results back.
type Bridge struct {
	conn    Conn
	pending *correlation.Router[uint64, Replier]
	opts    Options
	logger  *slog.Logger
}

func New(conn Conn, opts Options, logger *slog.Logger) *Bridge {
	if opts.OptionSeparator == "" {
		opts.OptionSeparator = protocol.DefaultOptionSeparator
	}
	if opts.TimeoutReply == "" {
		opts.TimeoutReply = "request timed out"
	}
	return &Bridge{
		conn:    conn,
		pending: correlation.New[uint64, Replier](logger),
		opts:    opts,
		logger:  logger,
	}
}

// Pending reports how many commands await a result.
func (b *Bridge) Pending() int { return b.pending.Len() }

// Submit registers cmd and forwards it to the orchestrator.
func (b *Bridge) Submit(cmd Command) error {
	env := protocol.NewDiscord(cmd.Name, cmd.Message, cmd.ID,
		protocol.JoinOptions(cmd.Options, b.opts.OptionSeparator), b.opts.OptionSeparator)
	if err := env.Validate(); err != nil {
		return err
	}
	payload, err := protocol.EncodeString(env)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	if err := b.pending.AddPending(cmd.ID, cmd.Reply); err != nil {
		return err
	}
	if _, err := b.conn.SendStrict(payload); err != nil {
		_, _ = b.pending.Resolve(cmd.ID)
		if errors.Is(err, transport.ErrNotConnected) {
			b.logger.Warn("orchestrator not connected, command dropped", "name", cmd.Name, "correlation_id", cmd.ID)
		}
		return fmt.Errorf("send command %d: %w", cmd.ID, err)
	}
	b.logger.Debug("command forwarded", "name", cmd.Name, "correlation_id", cmd.ID)
	return nil
}

// Run relays until ctx ends, src closes, or the orchestrator link drops.
// Replies are sent off the relay loop, so a slow replier delays only its
// own command. Run returns once every reply it started has finished.
func (b *Bridge) Run(ctx context.Context, src CommandSource) error {
	var replies sync.WaitGroup
	defer replies.Wait()

	reply := func(id uint64, r Replier, text, failure string) {
		replies.Add(1)
		go func() {
			defer replies.Done()
			if err := r.SendReply(ctx, text); err != nil {
				b.logger.Error(failure, "correlation_id", id, "error", err)
			}
		}()
	}

	var sweep <-chan time.Time
	if b.opts.PendingTTL > 0 {
		ticker := time.NewTicker(max(b.opts.PendingTTL/2, minSweepInterval))
		defer ticker.Stop()
		sweep = ticker.C
	}

	commands := src.Commands()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if err := b.Submit(cmd); err != nil {
				b.logger.Warn("command not submitted", "name", cmd.Name, "correlation_id", cmd.ID, "error", err)
				if cmd.Reply != nil && !errors.Is(err, correlation.ErrDuplicateCorrelation) {
					reply(cmd.ID, cmd.Reply, "command could not be submitted: "+err.Error(), "submit failure reply failed")
				}
			}
		case msg, ok := <-b.conn.Messages():
			if !ok {
				return fmt.Errorf("orchestrator connection closed")
			}
			if id, r, text, ok := b.route(msg); ok {
				reply(id, r, text, "chat reply failed")
			}
		case <-sweep:
			for id, r := range b.pending.Sweep(b.opts.PendingTTL) {
				reply(id, r, b.opts.TimeoutReply, "timeout reply failed")
			}
		}
	}
}

// Deliver routes one message from the orchestrator to its waiting command
// and sends the reply before returning.
func (b *Bridge) Deliver(ctx context.Context, msg string) {
	id, r, text, ok := b.route(msg)
	if !ok {
		return
	}
	if err := r.SendReply(ctx, text); err != nil {
		b.logger.Error("chat reply failed", "correlation_id", id, "error", err)
	}
}

// route resolves the command msg answers. JSON envelopes carry the id in a
// field; legacy plain-text replies carry it as a <|ID|> suffix. Anything
// unmatched is logged and dropped.
func (b *Bridge) route(msg string) (uint64, Replier, string, bool) {
	id, text, err := b.parse(msg)
	if err != nil {
		b.logger.Error("unroutable reply dropped", "error", err, "bytes", len(msg))
		return 0, nil, "", false
	}
	r, err := b.pending.Resolve(id)
	if err != nil {
		return 0, nil, "", false
	}
	return id, r, text, true
}

func (b *Bridge) parse(msg string) (uint64, string, error) {
	env, err := protocol.DecodeString(msg)
	if err == nil {
		d, ok := env.Discord()
		if !ok {
			return 0, "", fmt.Errorf("reply kind %s has no discord id", env.Kind())
		}
		return d.ID, env.Message(), nil
	}

	body, id, serr := correlation.ParseSuffix(msg)
	if serr != nil {
		return 0, "", fmt.Errorf("neither envelope (%v) nor suffixed text (%v)", err, serr)
	}
	return id, body, nil
}
