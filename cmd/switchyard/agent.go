package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/switchyard/internal/agent"
	"github.com/mattjoyce/switchyard/internal/executor"
	"github.com/mattjoyce/switchyard/internal/lock"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/service"
	"github.com/mattjoyce/switchyard/internal/workspace"
)

func runAgentStart(args []string) int {
	fs := flag.NewFlagSet("agent start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	index := fs.Int("process-index", -1, "Orchestrator worker slot to connect to")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *index < 0 || *index >= cfg.Orchestrator.WorkerCount {
		fmt.Fprintf(os.Stderr, "Error: --process-index must be in [0, %d)\n", cfg.Orchestrator.WorkerCount)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithWorker(*index).With("component", "agent")

	pidLockPath := lock.PathFor(cfg.Service.LockDir, "agent", *index)
	if err := os.MkdirAll(filepath.Dir(pidLockPath), 0o755); err != nil {
		logger.Error("failed to create lock directory", "path", pidLockPath, "error", err)
		return 1
	}
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (slot already has an agent)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	registry, err := service.Discover(cfg.Agent.ServicesDir, service.DiscoverOptions{MinVersion: cfg.Agent.MinVersion}, log.WithComponent("services"))
	if err != nil {
		logger.Error("service discovery failed", "services_dir", cfg.Agent.ServicesDir, "error", err)
		return 1
	}
	if cfg.Agent.DefaultService != "" {
		if err := registry.SetDefault(cfg.Agent.DefaultService); err != nil {
			logger.Error("invalid default service", "service", cfg.Agent.DefaultService, "error", err)
			return 1
		}
	}
	logger.Info("service discovery complete", "count", len(registry.All()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := executor.Options{
		Timeout:        cfg.Agent.Timeout,
		GracePeriod:    cfg.Agent.GracePeriod,
		Env:            cfg.Agent.Env,
		KeepWorkspaces: cfg.Agent.KeepWorkspaces,
	}
	if cfg.Agent.WorkspaceDir != "" {
		// Slots share a config, so each agent gets its own subtree.
		mgr, err := workspace.NewFSManager(filepath.Join(cfg.Agent.WorkspaceDir, fmt.Sprintf("worker-%d", *index)))
		if err != nil {
			logger.Error("invalid workspace directory", "error", err)
			return 1
		}
		if cfg.Agent.WorkspaceRetention > 0 {
			report, err := mgr.Cleanup(ctx, cfg.Agent.WorkspaceRetention)
			if err != nil {
				logger.Warn("workspace cleanup failed", "error", err)
			} else if report.DeletedDirs > 0 {
				logger.Info("removed stale workspaces", "count", report.DeletedDirs)
			}
		}
		opts.Workspaces = mgr
	}
	runner := executor.New(opts, log.WithComponent("executor"))

	a := agent.New(agent.Config{
		Index:     *index,
		Addr:      cfg.WorkerAddr(*index),
		DialRetry: cfg.Agent.DialRetry,
	}, registry, runner, logger)

	logger.Info("agent starting", "version", version, "addr", cfg.WorkerAddr(*index))
	if err := a.Run(ctx); err != nil {
		logger.Error("agent failed", "error", err)
		return 1
	}
	return 0
}
