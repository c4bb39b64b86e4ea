package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/authz"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/commands"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/config"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/handlers"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/hotword"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/limiter"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/service"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/twitch"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
	"github.com/redis/go-redis/v9"
)

func main() {
	mainLog := logger.New("MAIN")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetDebug(cfg.LogDebug)

	// Connect to database
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	store := db.NewStore(gdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshots fan out locally, and across instances when redis is configured
	hub := snapshot.NewHub()
	var snapOpts []snapshot.Option
	var relay *snapshot.Relay
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		relay = snapshot.NewRelay(rdb, hub)
		if err := relay.Start(ctx); err != nil {
			log.Fatalf("Failed to start snapshot relay: %v", err)
		}
		snapOpts = append(snapOpts, snapshot.WithRelay(relay))
		mainLog.Success("Snapshot relay connected to %s", cfg.Redis.Addr)
	}
	snaps := snapshot.NewStore(store, hub, snapOpts...)

	resolver := authz.NewResolver(store)
	proc := widget.NewProcessor(store, snaps, resolver, widget.WithTimeout(cfg.HandlerTimeout))
	sink := widget.NewSink(proc, store, snaps)
	limits := limiter.New(store)
	words := hotword.NewScanner(store, cfg.HotwordCacheTTL)
	settings := service.NewConfigStoreAccessor(store)
	tokens := service.NewTokenService(cfg.JWTSecret)
	interpreter := commands.NewInterpreter(store, limits, words, sink, settings,
		commands.WithBot(cfg.Twitch.BotUserID, cfg.Twitch.BotUsername))

	// Chat transport
	var transport twitch.ChatTransport
	var eventSub http.HandlerFunc
	switch cfg.Twitch.ChatTransport {
	case config.TransportEventSub:
		es, err := twitch.NewEventSubTransport(cfg.Twitch, cfg.PublicURL)
		if err != nil {
			log.Fatalf("Failed to initialize EventSub transport: %v", err)
		}
		transport = es
		eventSub = es.Handler
	default:
		transport = twitch.NewIRCTransport(cfg.Twitch.BotUsername, cfg.Twitch.BotOAuthToken)
	}

	bots := twitch.NewRegistry(store, transport, interpreter,
		twitch.WithQueueSize(cfg.ListenerQueue),
		twitch.WithTimeout(cfg.HandlerTimeout),
	)

	// Expired cooldowns, rate windows and hot word occurrences
	janitor, err := limiter.NewJanitor(store, cfg.CleanupSchedule)
	if err != nil {
		log.Fatalf("Failed to schedule cleanup: %v", err)
	}
	janitor.Start()

	// Initialize API server
	apiServer := handlers.NewServer(cfg, handlers.Deps{
		Store:    store,
		Snaps:    snaps,
		Proc:     proc,
		Authz:    resolver,
		Commands: interpreter,
		Hotwords: words,
		Settings: settings,
		Tokens:   tokens,
		Bots:     bots,
		EventSub: eventSub,
	})
	go func() {
		mainLog.Success("API server listening on %s", cfg.HTTPAddr)
		if err := apiServer.Start(); err != nil {
			mainLog.Error("API server error", err)
		}
	}()

	// The EventSub transport verifies its callback, so chat starts after the
	// server is listening.
	if err := bots.Start(ctx); err != nil {
		mainLog.Error("Chat bot failed to start", err)
	}

	// Wait for interrupt signal to gracefully shutdown the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Create a deadline for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	janitor.Stop(shutdownCtx)
	bots.Stop()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		mainLog.Error("Failed to shutdown API server", err)
	}
	if relay != nil {
		if err := relay.Close(); err != nil {
			mainLog.Error("Failed to close snapshot relay", err)
		}
	}

	mainLog.Info("Servers shutdown gracefully")
}
