// Command bismarkd is the unified entry point for the Bismark orchestration
// core: it wires C1-C11 into one process and serves two local HTTP
// listeners, the core operation surface (which also carries the UI
// websocket) and the tool proxy, grounded on
// the teacher's cmd/kandev/main.go unified-binary wiring and graceful
// shutdown sequence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/attention"
	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/common/logger"
	"github.com/bismarkhq/bismark/internal/coreapi"
	"github.com/bismarkhq/bismark/internal/eventbus"
	"github.com/bismarkhq/bismark/internal/gitwt"
	"github.com/bismarkhq/bismark/internal/headless"
	"github.com/bismarkhq/bismark/internal/plan"
	"github.com/bismarkhq/bismark/internal/ptysup"
	"github.com/bismarkhq/bismark/internal/spawnqueue"
	"github.com/bismarkhq/bismark/internal/store"
	"github.com/bismarkhq/bismark/internal/taskstore"
	"github.com/bismarkhq/bismark/internal/toolproxy"
	"github.com/bismarkhq/bismark/internal/wsgateway"
	"github.com/bismarkhq/bismark/internal/wsstate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.LoggingLevel(),
		Format:     cfg.LoggingFormat(),
		OutputPath: cfg.LoggingOutputPath(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting bismarkd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Home.Dir, 0o755); err != nil {
		log.Fatal("failed to create home directory", zap.String("dir", cfg.Home.Dir), zap.Error(err))
	}

	bus := eventbus.NewMemory(log)
	if cfg.NATS.URL != "" {
		log.Info("relaying events to NATS", zap.String("url", cfg.NATS.URL))
		relay, err := eventbus.NewNATSRelay(bus, cfg.NATS.URL, cfg.NATS.ClientID, cfg.NATS.Namespace, log)
		if err != nil {
			log.Fatal("failed to connect NATS relay", zap.Error(err))
		}
		defer relay.Close()
	}

	st := store.New(cfg.Home.Dir, log)
	sessions := store.NewAgentSessionStore(ctx, st)

	terminals := ptysup.New(sessions, func(terminalID string, data []byte) {
		bus.Publish(eventbus.TerminalData, eventbus.TerminalDataPayload{TerminalID: terminalID, Data: string(data)})
	}, func(terminalID string, exitCode int) {
		bus.Publish(eventbus.TerminalExit, eventbus.TerminalExitPayload{TerminalID: terminalID, ExitCode: exitCode})
	}, log)
	defer terminals.CloseAll()

	spawnQueue := spawnqueue.New(cfg.SpawnQueue.Concurrency, cfg.SpawnQueue.SpawnDelay(), bus, log)
	taskClient := taskstore.NewClient(cfg.TaskStore.Binary)

	git := gitwt.New(cfg.Worktree.BasePath, log)

	headlessRT, err := headless.NewRuntime(cfg.Docker, st, bus, log)
	if err != nil {
		log.Warn("headless runtime disabled, container runtime unavailable", zap.Error(err))
	} else {
		defer headlessRT.Close()
	}

	attentionQueue := attention.NewQueue(bus, log)
	// Nothing in this process calls attentionServer.Listen, so no per-agent
	// sockets are opened under this directory; the server is only
	// constructed here and closed at shutdown.
	attentionServer := attention.New(attentionSocketDir(cfg.Home.Dir), attentionQueue.OnSocketEvent, log)
	defer attentionServer.CloseAll()

	wsState, err := wsstate.New(ctx, st, bus, log)
	if err != nil {
		log.Fatal("failed to initialize workspace state", zap.Error(err))
	}

	planMgr := plan.New(st, bus, cfg.Plan, cfg.Agent, terminals, spawnQueue, taskClient, git, headlessRT, wsState, log)
	defer planMgr.Close()

	toolProxy := toolproxy.New(cfg.ToolProxy, nil, bus, log)
	if err := toolProxy.Start(ctx); err != nil {
		log.Warn("tool proxy failed to start", zap.Error(err))
	}

	hub := wsgateway.NewHub(log)
	hub.Attach(ctx, bus)
	go hub.Run(ctx)

	api := coreapi.New(cfg.CoreAPI, coreapi.Deps{
		Store:     st,
		Bus:       bus,
		WSState:   wsState,
		Plan:      planMgr,
		Headless:  headlessRT,
		Git:       git,
		Terminals: terminals,
		ToolProxy: toolProxy,
		Attention: attentionQueue,
	}, log)
	api.MountWebsocket("/ws", hub)
	if err := api.Start(ctx); err != nil {
		log.Fatal("failed to start core API", zap.Error(err))
	}

	log.Info("bismarkd ready",
		zap.String("coreApi", api.Addr()),
		zap.String("toolProxy", toolProxy.Addr()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down bismarkd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error("core API shutdown error", zap.Error(err))
	}
	if err := toolProxy.Shutdown(shutdownCtx); err != nil {
		log.Error("tool proxy shutdown error", zap.Error(err))
	}

	log.Info("bismarkd stopped")
}

func attentionSocketDir(homeDir string) string {
	return "/tmp/bm"
}
