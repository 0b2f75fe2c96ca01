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

	"github.com/openclass/support-chat/internal/auth"
	"github.com/openclass/support-chat/internal/cache"
	"github.com/openclass/support-chat/internal/config"
	"github.com/openclass/support-chat/internal/handler"
	"github.com/openclass/support-chat/internal/hub"
	"github.com/openclass/support-chat/internal/presence"
	"github.com/openclass/support-chat/internal/repository"
	"github.com/openclass/support-chat/internal/service"
	"github.com/openclass/support-chat/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()
	l.Info().Int("port", cfg.Server.Port).Msg("starting support-chat service")

	if cfg.Auth.JWTSecret == "" {
		l.Fatal().Msg("auth.jwt_secret is required")
	}
	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// Store backend
	var (
		roomRepo repository.RoomRepository
		msgRepo  repository.MessageRepository
	)
	switch cfg.Store.Driver {
	case "memory":
		roomRepo = repository.NewMemoryRoomRepository()
		msgRepo = repository.NewMemoryMessageRepository()
		l.Warn().Msg("using in-memory store; all rooms are lost on restart")
	default:
		session, err := repository.NewCassandraSession(cfg.Cassandra)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to cassandra")
		}
		defer session.Close()
		roomRepo = repository.NewCassandraRoomRepository(session)
		msgRepo = repository.NewCassandraMessageRepository(session)
		l.Info().Strs("hosts", cfg.Cassandra.Hosts).Msg("connected to cassandra")
	}

	// Optional read-side cache
	var c cache.Cache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis, "support")
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rc.Close()
		c = rc
		l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}

	registry := presence.NewRegistry()

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	svc := service.NewService(wsHub, registry, roomRepo, msgRepo, c)

	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(log.GinMiddleware(l))

	httpHandler := handler.NewHTTPHandler(svc, handler.RequireAuth(validator))
	httpHandler.RegisterRoutes(engine)

	wsHandler := handler.NewWSHandler(wsHub, registry, validator, svc, cfg.WebSocket)
	engine.GET("/ws", gin.WrapF(wsHandler.HandleWebSocket))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info().Str("addr", server.Addr).Msg("support-chat service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down support-chat service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("server forced to shutdown")
	}

	l.Info().Msg("support-chat service stopped")
}
