package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"game-lobby-backend/internal/config"
	"game-lobby-backend/internal/gateway"
	"game-lobby-backend/internal/handlers"
	"game-lobby-backend/internal/logging"
	"game-lobby-backend/internal/repository/postgres"
	"game-lobby-backend/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisService, err := services.NewRedisService(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisService.Close()

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	repo, err := postgres.NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer repo.Close()

	gateways := gateway.NewRegistry()
	for family, baseURL := range cfg.ProviderEndpoints {
		client := gateway.NewHTTPClient(family, baseURL, cfg.ProviderMerchantID, cfg.ProviderMerchantKey)
		gateways.Register(family, gateway.NewBounded(family, client, cfg.GatewayTimeout))
		logger.Info("provider gateway registered", "family", family, "base_url", baseURL)
	}
	if len(gateways.Families()) == 0 {
		logger.Warn("no provider endpoints configured, every launch will fail")
	}

	watchers := services.NewWatchRegistry(newSurfaceWatcher(cfg, redisService, gateways, logger), logger)
	defer watchers.Close()

	hub := handlers.NewWebSocketHub(logger)
	go hub.Run(ctx)

	jwtService := services.NewJWTService(cfg)
	visibility := services.NewVisibilityService(repo)
	balance := services.NewBalanceSynchronizer(redisService, gateways, hub, logger)
	sessions := services.NewSessionRegistry(redisService, visibility, balance, gateways, watchers, hub,
		services.SessionOptions{
			LockTTL:      cfg.UserLockTTL,
			HeartbeatTTL: cfg.HeartbeatTTL,
		}, logger)

	// Sessions whose withdrawal failed stay ending; keep retrying them. Ready
	// sessions nobody opened are ended so their funds come back.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.RetryPendingTeardowns(ctx, 30*time.Second); n > 0 {
					logger.Info("finished pending teardowns", "count", n)
				}
				if n := sessions.ExpireUnopenedSessions(ctx, cfg.UnopenedSessionTTL); n > 0 {
					logger.Info("expired unopened sessions", "count", n)
				}
			}
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := (&handlers.Router{
		Games:     handlers.NewGameHandler(visibility, sessions, logger),
		Sessions:  handlers.NewSessionHandler(sessions, logger),
		Users:     handlers.NewUserHandler(redisService, repo, logger),
		WebSocket: handlers.NewWebSocketHandler(hub, sessions, redisService, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"redis":    redisService,
			"postgres": repo,
		}),
		JWT:             jwtService,
		Redis:           redisService,
		LaunchRateLimit: cfg.LaunchRateLimit,
		Logger:          logger,
	}).Engine()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env, "watcher", cfg.WatcherMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
}

func newSurfaceWatcher(cfg *config.Config, store *services.RedisService, gateways *gateway.Registry, logger *slog.Logger) services.SurfaceWatcher {
	switch cfg.WatcherMode {
	case "poll":
		return services.NewPollWatcher(services.NewGatewayProbe(store, gateways), cfg.WatcherInterval, logger)
	case "event":
		return services.EventWatcher{}
	default:
		return services.NewHeartbeatWatcher(store, cfg.WatcherInterval, logger)
	}
}
