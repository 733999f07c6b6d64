package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/switchyard/internal/bridge"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/scheduler"
	"github.com/mattjoyce/switchyard/internal/transport"
	"github.com/mattjoyce/switchyard/internal/webhook"
)

func runBridgeStart(args []string) int {
	fs := flag.NewFlagSet("bridge start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	handshake := fs.Bool("handshake", false, "Read the front-door address from the orchestrator over stdin")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("bridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	frontDoor := cfg.Orchestrator.FrontDoor
	if *handshake {
		pipe := transport.NewPipeConn(os.Stdin, os.Stdout, log.WithComponent("pipe"))
		addr, err := bridge.AcceptHandshake(ctx, pipe, fmt.Sprintf("bridge chat on %s", cfg.Bridge.Listen))
		if err != nil {
			logger.Error("handshake failed", "error", err)
			return 1
		}
		frontDoor = addr
		logger.Info("handshake complete", "front_door", frontDoor)
	}

	conn := transport.Dial(ctx, frontDoor, "frontdoor", transport.DialOptions{}, logger)
	defer conn.Close()
	if err := conn.WaitConnected(ctx); err != nil {
		logger.Error("front door unreachable", "addr", frontDoor, "error", err)
		return 1
	}
	logger.Info("connected to front door", "addr", frontDoor)

	b := bridge.New(conn, bridge.Options{
		OptionSeparator: cfg.Bridge.OptionSeparator,
		PendingTTL:      cfg.Bridge.PendingTTL,
	}, logger)
	ids := bridge.NewIDs()
	chat := bridge.NewHTTPChat(cfg.Bridge.WaitTimeout, ids, log.WithComponent("chat"))
	sources := []bridge.CommandSource{chat}

	errCh := make(chan error, 3)
	go func() {
		if err := chat.Serve(ctx, cfg.Bridge.Listen); err != nil {
			errCh <- fmt.Errorf("chat adapter: %w", err)
		}
	}()

	if cfg.Bridge.Webhooks != nil {
		hookCfg, err := webhook.FromConfig(cfg.Bridge.Webhooks)
		if err != nil {
			logger.Error("invalid webhook configuration", "error", err)
			return 1
		}
		hooks := webhook.New(hookCfg, ids, log.WithComponent("webhook"))
		sources = append(sources, hooks)
		go func() {
			if err := hooks.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhooks: %w", err)
			}
		}()
	}

	if len(cfg.Bridge.Schedules) > 0 {
		schedules := make([]scheduler.Schedule, len(cfg.Bridge.Schedules))
		for i, sc := range cfg.Bridge.Schedules {
			schedules[i] = scheduler.Schedule(sc)
		}
		sched := scheduler.New(schedules, ids, log.Get())
		sources = append(sources, sched)
		go func() {
			_ = sched.Run(ctx)
		}()
	}

	go func() {
		if err := b.Run(ctx, bridge.Merge(ctx, sources...)); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("bridge stopping", "pending", b.Pending())
	case err := <-errCh:
		logger.Error("bridge failed", "error", err)
		return 1
	}
	return 0
}
