package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/nutribot/internal/agent"
	"github.com/nextlevelbuilder/nutribot/internal/bootstrap"
	"github.com/nextlevelbuilder/nutribot/internal/bus"
	"github.com/nextlevelbuilder/nutribot/internal/channels"
	"github.com/nextlevelbuilder/nutribot/internal/channels/discord"
	"github.com/nextlevelbuilder/nutribot/internal/channels/telegram"
	"github.com/nextlevelbuilder/nutribot/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/gateway"
	"github.com/nextlevelbuilder/nutribot/internal/providers"
	"github.com/nextlevelbuilder/nutribot/internal/reminders"
	"github.com/nextlevelbuilder/nutribot/internal/retriever"
	"github.com/nextlevelbuilder/nutribot/internal/sessions"
	"github.com/nextlevelbuilder/nutribot/internal/store"
	"github.com/nextlevelbuilder/nutribot/internal/store/pg"
	"github.com/nextlevelbuilder/nutribot/internal/store/sqlite"
	"github.com/nextlevelbuilder/nutribot/internal/tracing"
)

func runGateway() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		fmt.Fprintln(os.Stderr, "Run 'nutribot onboard' to create a configuration.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without export", "error", err)
	}

	// Profile store: Postgres in managed mode, SQLite otherwise.
	profiles, closeStores, err := openProfileStore(cfg)
	if err != nil {
		slog.Error("failed to open profile store", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	sessionMgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage), cfg.Sessions.MaxMessages)

	provider, err := providers.FromConfig(cfg)
	if err != nil {
		slog.Error("failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	slog.Info("provider ready", "name", provider.Name(), "model", cfg.Agent.Model)

	if cfg.Retriever.CorpusDir != "" {
		cfg.Retriever.CorpusDir = config.ExpandHome(cfg.Retriever.CorpusDir)
		created, err := bootstrap.EnsureCorpusFiles(cfg.Retriever.CorpusDir)
		if err != nil {
			slog.Warn("failed to seed corpus directory", "dir", cfg.Retriever.CorpusDir, "error", err)
		} else if len(created) > 0 {
			slog.Info("seeded starter knowledge documents", "dir", cfg.Retriever.CorpusDir, "files", len(created))
		}
	}

	embedder := providers.EmbedderFromConfig(cfg)
	engine, err := retriever.NewEngine(ctx, cfg.Retriever, embedder)
	if err != nil {
		slog.Error("failed to build knowledge base", "error", err)
		os.Exit(1)
	}
	if cfg.Retriever.Watch {
		go func() {
			if err := engine.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("corpus watcher exited", "error", err)
			}
		}()
	}

	orchestrator := agent.NewOrchestrator(provider, profiles, sessionMgr, engine, cfg)

	msgBus := bus.New()
	channelMgr := channels.NewManager(msgBus)

	var waCh *whatsapp.Channel
	if cfg.Channels.WhatsApp.Enabled {
		waCh, err = whatsapp.New(cfg.Channels.WhatsApp, msgBus)
		if err != nil {
			slog.Error("whatsapp channel init failed", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("whatsapp", waCh)
	}
	if cfg.Channels.Telegram.Enabled {
		tgCh, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("telegram", tgCh)
	}
	if cfg.Channels.Discord.Enabled {
		dcCh, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("discord channel init failed", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("discord", dcCh)
	}

	// Inbound pipeline: dedupe, debounce, then the agent.
	process := makeProcessFunc(ctx, orchestrator, msgBus)

	var debouncer *bus.InboundDebouncer
	if window, enabled := cfg.Debounce.Window(); enabled {
		debouncer, err = bus.NewInboundDebouncer(window, process)
		if err != nil {
			slog.Error("debouncer init failed", "error", err)
			os.Exit(1)
		}
		slog.Info("inbound debounce configured", "window_ms", cfg.Debounce.WindowMS)
	} else {
		slog.Info("inbound debounce disabled, processing messages directly")
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumeInboundMessages(ctx, msgBus, debouncer, process)
	}()

	srv := gateway.NewServer(cfg, waCh, debouncer, profiles, channelMgr)
	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("gateway server failed", "error", err)
			cancel()
		}
	}()

	if cfg.Reminders.Enabled {
		remSvc, remErr := reminders.NewService(cfg.Reminders, sessionMgr, profiles, msgBus)
		if remErr != nil {
			slog.Error("reminders init failed", "error", remErr)
			os.Exit(1)
		}
		go remSvc.Run(ctx)
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	slog.Info("nutribot gateway running",
		"version", Version,
		"addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	// Flush pending buffers while the dispatcher and channels are still
	// running, drain the replies through them, and only then tear the
	// outbound path down. Stopping the dispatcher first would strand the
	// flushed replies in the bus.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if debouncer != nil {
		debouncer.Stop()
	}
	msgBus.DrainOutbound(shutdownCtx)
	channelMgr.StopAll(shutdownCtx)
	cancel()
	<-consumerDone
	msgBus.Close()

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("trace exporter shutdown failed", "error", err)
		}
	}
	slog.Info("shutdown complete")
}

func openProfileStore(cfg *config.Config) (store.ProfileStore, func(), error) {
	if cfg.IsManagedMode() {
		stores, err := pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("profile store ready", "backend", "postgres")
		return stores.Profiles, func() { stores.Profiles.Close() }, nil
	}

	path := config.ExpandHome(cfg.Database.SQLitePath)
	profiles, err := sqlite.NewProfileStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: %w", err)
	}
	slog.Info("profile store ready", "backend", "sqlite", "path", path)
	return profiles, func() { profiles.Close() }, nil
}
