package bridge

import (
	"context"
	"fmt"

	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/transport"
)

// AcceptHandshake reads the orchestrator's handshake from pipe, answers it
// with a ready envelope carrying detail, and returns the front-door address
// the handshake named.
func AcceptHandshake(ctx context.Context, pipe *transport.PipeConn, detail string) (string, error) {
	type result struct {
		msg string
		err error
	}
	got := make(chan result, 1)
	go func() {
		msg, err := pipe.Receive()
		got <- result{msg, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r = <-got:
	}
	if r.err != nil {
		return "", fmt.Errorf("read handshake: %w", r.err)
	}

	env, err := protocol.DecodeString(r.msg)
	if err != nil {
		return "", err
	}
	if env.Name() != protocol.NameHandshake {
		return "", fmt.Errorf("unexpected handshake envelope %q", env.Name())
	}
	if env.Message() == "" {
		return "", fmt.Errorf("handshake carries no front-door address")
	}

	ready, err := protocol.EncodeString(protocol.NewReady(detail))
	if err != nil {
		return "", err
	}
	if _, err := pipe.Send(ready); err != nil {
		return "", fmt.Errorf("send ready: %w", err)
	}
	return env.Message(), nil
}
