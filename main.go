package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foliodesk/backend/internal/client"
	"github.com/foliodesk/backend/internal/config"
	"github.com/foliodesk/backend/internal/db"
	"github.com/foliodesk/backend/internal/handler"
	"github.com/foliodesk/backend/internal/ratelimit"
	"github.com/foliodesk/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// @title foliodesk API
// @version 1.0
// @description Back-office authentication and staff administration API.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.
func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	pg := db.NewPostgres(pool)
	defer pg.Close()

	if err := pg.RunMigrations(ctx); err != nil {
		return err
	}

	var (
		redisClient *redis.Client
		redisPinger handler.Pinger
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		redisPinger = handler.RedisPinger(redisClient)
	} else {
		slog.Warn("REDIS_URL not set, auth rate limiting disabled")
	}

	rlCfg, err := ratelimit.ParseConfig(cfg.RateLimit)
	if err != nil {
		return err
	}
	var limiter *ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.New(redisClient, rlCfg)
	}

	sender, err := service.NewResetDeliveryService(cfg.ResetDelivery)
	if err != nil {
		return err
	}

	slack := client.NewSlackClient(cfg.Slack)
	var authOpts []service.Option
	if slack.IsConfigured() {
		authOpts = append(authOpts, service.WithLockNotifier(slack))
	}

	authService, err := service.NewAuthService(pg, sender, cfg.Auth, authOpts...)
	if err != nil {
		return err
	}
	if err := authService.EnsureAdmin(ctx, cfg.Admin); err != nil {
		return err
	}

	router := handler.NewRouter(handler.RouterDeps{
		Auth:           authService,
		Users:          service.NewUserService(pg),
		Limiter:        limiter,
		Health:         handler.NewHealthHandler(pg, redisPinger),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowCreds:     cfg.CORS.AllowCredentials,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down")
	err = srv.Shutdown(shutdownCtx)
	authService.Wait()
	return err
}
