package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/transport"
)

// stopGrace is how long a child gets between SIGTERM and SIGKILL.
const stopGrace = 5 * time.Second

// Supervisor launches and tracks the orchestrator's child processes.
type Supervisor struct {
	logger *slog.Logger
	// extraArgs are appended to every child command, e.g. --config path.
	extraArgs []string

	mu    sync.Mutex
	procs []*exec.Cmd
	wg    sync.WaitGroup
}

func NewSupervisor(extraArgs []string, logger *slog.Logger) *Supervisor {
	return &Supervisor{extraArgs: extraArgs, logger: logger}
}

// command builds a child that is sent SIGTERM when ctx ends.
func (s *Supervisor) command(ctx context.Context, argv []string, extra ...string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	args := append(append(append([]string{}, argv[1:]...), extra...), s.extraArgs...)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = stopGrace
	cmd.Stderr = os.Stderr
	return cmd, nil
}

func (s *Supervisor) track(name string, cmd *exec.Cmd) {
	s.mu.Lock()
	s.procs = append(s.procs, cmd)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := cmd.Wait()
		s.logger.Info("child exited", "child", name, "pid", cmd.Process.Pid, "error", err)
	}()
}

// SpawnAgents starts count agents, passing --process-index i to each.
func (s *Supervisor) SpawnAgents(ctx context.Context, argv []string, count int) error {
	for i := 0; i < count; i++ {
		cmd, err := s.command(ctx, argv, "--process-index", strconv.Itoa(i))
		if err != nil {
			return fmt.Errorf("agent %d: %w", i, err)
		}
		cmd.Stdout = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start agent %d: %w", i, err)
		}
		s.logger.Info("agent started", "worker", i, "pid", cmd.Process.Pid)
		s.track(fmt.Sprintf("agent-%d", i), cmd)
	}
	return nil
}

// SpawnBridge starts the bridge, sends it the front-door address over its
// stdin and waits for its ready reply on stdout.
func (s *Supervisor) SpawnBridge(ctx context.Context, argv []string, frontDoor string, timeout time.Duration) error {
	cmd, err := s.command(ctx, argv, "--handshake")
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	s.logger.Info("bridge started", "pid", cmd.Process.Pid)

	pipe := transport.NewPipeConn(stdout, stdin, s.logger)
	detail, err := Handshake(ctx, pipe, frontDoor, timeout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("bridge handshake: %w", err)
	}
	s.logger.Info("bridge ready", "detail", detail)
	s.track("bridge", cmd)
	return nil
}

// Handshake sends the front-door address over pipe and waits for the
// ready envelope. It returns the ready message.
func Handshake(ctx context.Context, pipe *transport.PipeConn, frontDoor string, timeout time.Duration) (string, error) {
	payload, err := protocol.EncodeString(protocol.NewHandshake(frontDoor))
	if err != nil {
		return "", err
	}
	if _, err := pipe.Send(payload); err != nil {
		return "", fmt.Errorf("send handshake: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case msg, ok := <-pipe.Messages():
		if !ok {
			return "", fmt.Errorf("pipe closed before ready")
		}
		env, err := protocol.DecodeString(msg)
		if err != nil {
			return "", err
		}
		if env.Name() != protocol.NameReady {
			return "", fmt.Errorf("unexpected handshake reply %q", env.Name())
		}
		return env.Message(), nil
	}
}

// Wait blocks until every tracked child has exited.
func (s *Supervisor) Wait() { s.wg.Wait() }

// Running reports how many children have been started.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
