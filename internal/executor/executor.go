// Package executor turns one request envelope into one service invocation.
//
// The request is encoded as JSON and passed as the service's only argument.
// The service answers with a single JSON envelope on stdout. Stderr is
// captured for diagnostics and never parsed. Exactly one process is spawned
// per request; failures are reported to the caller and never retried.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/switchyard/internal/protocol"
	"github.com/mattjoyce/switchyard/internal/workspace"
)

const (
	// maxStderrBytes caps the amount of stderr kept from a service run.
	maxStderrBytes = 64 * 1024

	// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// ErrEmptyOutput is wrapped by a ResultFormatError when the service wrote
// nothing to stdout.
var ErrEmptyOutput = errors.New("service produced no output")

// Options tunes an Executor. The zero value runs services without a deadline.
type Options struct {
	// Timeout bounds a single run. Zero disables it.
	Timeout time.Duration
	// GracePeriod between SIGTERM and SIGKILL once Timeout fires.
	GracePeriod time.Duration
	// Env is appended to the inherited environment.
	Env []string
	// Workspaces, when set, gives every run a fresh working directory,
	// exported to the service as SWITCHYARD_WORKSPACE.
	Workspaces workspace.Manager
	// KeepWorkspaces leaves run directories behind for inspection.
	KeepWorkspaces bool
}

// WorkspaceEnv names the variable carrying the run's workspace directory.
const WorkspaceEnv = "SWITCHYARD_WORKSPACE"

// Result is the decoded service answer plus run diagnostics.
type Result struct {
	Envelope protocol.Envelope
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Executor spawns services. It holds no per-run state and is safe for
// concurrent use, though an agent runs one service at a time.
type Executor struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Executor.
func New(opts Options, logger *slog.Logger) *Executor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{opts: opts, logger: logger}
}

// Run invokes entrypoint with req and decodes its stdout.
func (e *Executor) Run(ctx context.Context, entrypoint string, req protocol.Envelope) (*Result, error) {
	logger := e.logger.With("entrypoint", entrypoint, "envelope", req.Name(), "correlation_id", req.CorrelationKey())

	if entrypoint == "" {
		return nil, &LaunchError{Entrypoint: entrypoint, Err: exec.ErrNotFound}
	}
	arg, err := protocol.EncodeString(req)
	if err != nil {
		return nil, &LaunchError{Entrypoint: entrypoint, Err: fmt.Errorf("encode request: %w", err)}
	}

	// Not CommandContext: termination is managed here so SIGTERM comes first.
	cmd := exec.Command(entrypoint, arg)
	env := e.opts.Env
	if e.opts.Workspaces != nil {
		ws, err := e.opts.Workspaces.Create(ctx, uuid.NewString())
		if err != nil {
			return nil, &LaunchError{Entrypoint: entrypoint, Err: fmt.Errorf("create workspace: %w", err)}
		}
		if !e.opts.KeepWorkspaces {
			defer e.removeWorkspace(ctx, ws, logger)
		}
		cmd.Dir = ws.Dir
		env = append(env[:len(env):len(env)], WorkspaceEnv+"="+ws.Dir)
		logger = logger.With("workspace", ws.Dir)
	}
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Bounds Wait when a grandchild keeps the pipes open after the service exits.
	cmd.WaitDelay = e.opts.GracePeriod

	logger.Debug("spawning service", "timeout", e.opts.Timeout)
	started := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error("service failed to launch", "error", err)
		return nil, &LaunchError{Entrypoint: entrypoint, Err: err}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var deadline <-chan time.Time
	if e.opts.Timeout > 0 {
		timer := time.NewTimer(e.opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-deadline:
		logger.Warn("service timed out, sending SIGTERM", "timeout", e.opts.Timeout)
		e.terminate(cmd, waitErr, logger)
		return nil, &CaptureError{Entrypoint: entrypoint, Stderr: truncateStderr(stderr.String()), Err: context.DeadlineExceeded}
	case <-ctx.Done():
		logger.Warn("run cancelled, sending SIGTERM")
		e.terminate(cmd, waitErr, logger)
		return nil, &CaptureError{Entrypoint: entrypoint, Stderr: truncateStderr(stderr.String()), Err: ctx.Err()}
	case err := <-waitErr:
		res := &Result{Stderr: truncateStderr(stderr.String()), Duration: time.Since(started)}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				logger.Error("service output could not be captured", "error", err)
				return nil, &CaptureError{Entrypoint: entrypoint, Stderr: res.Stderr, Err: err}
			}
			res.ExitCode = exitErr.ExitCode()
			logger.Warn("service exited with non-zero status", "exit_code", res.ExitCode)
		}

		raw := stdout.String()
		if strings.TrimSpace(raw) == "" {
			logger.Error("service produced no output", "stderr", res.Stderr)
			return nil, &ResultFormatError{Entrypoint: entrypoint, Stderr: res.Stderr, Err: ErrEmptyOutput}
		}
		env, err := protocol.DecodeString(raw)
		if err != nil {
			logger.Error("failed to decode service output", "error", err, "stdout", raw)
			return nil, &ResultFormatError{Entrypoint: entrypoint, Stdout: raw, Stderr: res.Stderr, Err: err}
		}
		res.Envelope = env
		logger.Debug("service completed", "exit_code", res.ExitCode, "duration", res.Duration)
		return res, nil
	}
}

func (e *Executor) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(e.opts.GracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("service exited after SIGTERM")
	case <-grace.C:
		logger.Warn("service ignored SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func (e *Executor) removeWorkspace(ctx context.Context, ws workspace.Workspace, logger *slog.Logger) {
	if err := e.opts.Workspaces.Remove(context.WithoutCancel(ctx), ws.RunID); err != nil {
		logger.Warn("failed to remove workspace", "error", err)
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
