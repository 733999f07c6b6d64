package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/switchyard/internal/api"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/journal"
	"github.com/mattjoyce/switchyard/internal/lock"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/storage"
)

// bridgeHandshakeTimeout bounds the wait for a spawned bridge's ready reply.
const bridgeHandshakeTimeout = 10 * time.Second

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", resolved)
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("orchestrator")
	logger.Info("switchyard starting", "version", version, "config", resolved)

	pidLockPath := lock.PathFor(cfg.Service.LockDir, "orchestrator", -1)
	if err := os.MkdirAll(filepath.Dir(pidLockPath), 0o755); err != nil {
		logger.Error("failed to create lock directory", "path", pidLockPath, "error", err)
		return 1
	}
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another orchestrator may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(cfg.Events.BufferSize)
	obs := dispatch.Observers{Hub: hub}

	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		obs.Journal = journal.New(db)
		logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Service.Name, log.WithComponent("nats"))
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			return 1
		}
		defer nc.Close()
		fwd := events.NewForwarder(nc, cfg.Events.NATSSubject, log.WithComponent("nats"))
		go fwd.Run(ctx, hub)
	}

	addrs := make([]string, cfg.Orchestrator.WorkerCount)
	for i := range addrs {
		addrs[i] = cfg.WorkerAddr(i)
	}
	pool, err := dispatch.NewPool(addrs, obs, log.WithComponent("pool"))
	if err != nil {
		logger.Error("failed to create worker pool", "error", err)
		return 1
	}
	frontDoor, err := dispatch.NewFrontDoor(cfg.Orchestrator.FrontDoor, pool, obs, log.WithComponent("frontdoor"))
	if err != nil {
		logger.Error("failed to open front door", "addr", cfg.Orchestrator.FrontDoor, "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 4)

	go func() {
		if err := pool.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("pool: %w", err)
		}
	}()

	go func() {
		if err := frontDoor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("front door: %w", err)
		}
	}()

	if cfg.API.Enabled {
		deps := api.Deps{Pool: pool, Pending: frontDoor, Events: hub}
		if obs.Journal != nil {
			deps.Journal = obs.Journal
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			Token:  cfg.API.Token,
			Tokens: cfg.API.Tokens,
		}, deps, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	absConfig, _ := filepath.Abs(resolved)
	sup := dispatch.NewSupervisor([]string{"--config", absConfig}, log.WithComponent("supervisor"))
	defer sup.Wait()

	if cfg.Orchestrator.SpawnAgents {
		if err := sup.SpawnAgents(ctx, cfg.Orchestrator.AgentCommand, cfg.Orchestrator.WorkerCount); err != nil {
			logger.Error("failed to spawn agents", "error", err)
			cancel()
			return 1
		}
	}

	if cfg.Orchestrator.SpawnBridge {
		if err := sup.SpawnBridge(ctx, cfg.Orchestrator.BridgeCommand, frontDoor.Addr(), bridgeHandshakeTimeout); err != nil {
			logger.Error("failed to spawn bridge", "error", err)
			cancel()
			return 1
		}
	}

	logger.Info("switchyard running (press Ctrl+C to stop)",
		"workers", pool.Size(),
		"front_door", frontDoor.Addr(),
	)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("switchyard stopped")
	return 0
}
