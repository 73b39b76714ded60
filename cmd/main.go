package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coinpulse/chat-service/internal/cache"
	"github.com/coinpulse/chat-service/internal/client"
	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/internal/handler"
	"github.com/coinpulse/chat-service/internal/history"
	"github.com/coinpulse/chat-service/internal/hub"
	"github.com/coinpulse/chat-service/internal/identity"
	"github.com/coinpulse/chat-service/internal/presence"
	"github.com/coinpulse/chat-service/internal/relay"
	"github.com/coinpulse/chat-service/internal/service"
	"github.com/coinpulse/chat-service/internal/store"
	"github.com/coinpulse/chat-service/pkg/database"
	"github.com/coinpulse/chat-service/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()

	instanceID := uuid.New().String()
	logger.Info().
		Str(log.FieldInstance, instanceID).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("starting chat service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store
	db, err := database.New(cfg.Database.ToDBConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	msgStore, err := store.NewGormStore(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize message store")
	}
	defer msgStore.Close()

	resolver, err := identity.NewGormResolver(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize identity resolver")
	}

	// Optional history cache
	var msgCache cache.MessageCache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisMessageCache(cfg.Cache.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to cache redis")
		}
		defer redisCache.Close()
		msgCache = redisCache
		logger.Info().Str("address", cfg.Cache.Redis.Address).Msg("history cache enabled")
	}
	hist := history.New(msgStore, msgCache, cfg.Chat.HistoryCacheTTL)

	// Optional shared presence registry
	var pres presence.Presence = presence.Noop{}
	if cfg.Presence.Enabled {
		redisPresence, err := presence.NewRedisPresence(cfg.Presence)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to presence redis")
		}
		pres = redisPresence
		logger.Info().Str("address", cfg.Presence.Redis.Address).Msg("shared presence enabled")
	}
	defer pres.Close()

	// Optional cross-instance relay
	rel, err := relay.New(cfg.Relay)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Relay.Driver).Msg("failed to initialize relay")
	}
	if rel != nil {
		defer rel.Close()
		logger.Info().Str("driver", cfg.Relay.Driver).Msg("broadcast relay enabled")
	}

	tokenClient := client.NewTokenClient(cfg.Metadata)

	h := hub.NewHub(cfg.WebSocket)
	go h.Run(ctx)

	monitor := hub.NewMonitor(h, cfg.WebSocket.PingInterval)
	go monitor.Run(ctx)

	chatService := service.NewChatService(
		h,
		msgStore,
		hist,
		resolver,
		tokenClient,
		pres,
		rel,
		instanceID,
		cfg.Chat.HistoryLimit,
	)
	if err := chatService.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start chat service")
	}
	defer chatService.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(log.GinMiddleware(logger))

	wsHandler := handler.NewWSHandler(h, chatService, cfg.WebSocket)
	wsHandler.RegisterRoutes(router)

	httpHandler := handler.NewHTTPHandler(h, hist, pres, cfg.Chat.HistoryLimit)
	httpHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("chat service stopped")
}
