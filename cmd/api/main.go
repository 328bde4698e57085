package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperscape/internal/api"
	"paperscape/internal/config"
	"paperscape/internal/pkg/google"
	"paperscape/internal/pkg/logger"
	"paperscape/internal/pkg/notify"
	"paperscape/internal/store"

	"github.com/redis/go-redis/v9"
)

// main 是 API 服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志
// 3. 连接用户存储与 Redis
// 4. 初始化管理员账户并启动 API 服务器
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel, cfg.App.Env)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := openStore(ctx, cfg)
	if err != nil {
		appLogger.Error("open store failed", slog.String("driver", cfg.Store.Driver), slog.String("error", err.Error()))
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Warn("redis unavailable, rate limiting fails open", slog.String("error", err.Error()))
		}
	}

	var googleClient *google.Client
	if cfg.Google.ClientID != "" {
		googleClient = google.NewClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.GoogleRedirectURL(), google.Options{})
	}

	deps := api.Deps{
		Users:  users,
		Redis:  rdb,
		Mailer: notify.NewEmailNotifier(&cfg.Email, appLogger),
	}
	if googleClient != nil {
		deps.Google = googleClient
	}

	srv, err := api.NewServer(cfg, appLogger, deps)
	if err != nil {
		appLogger.Error("init server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := srv.SeedAdmin(ctx); err != nil {
		appLogger.Error("seed admin failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr), slog.String("store", cfg.Store.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down api server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := srv.Close(); err != nil {
		appLogger.Error("close resources failed", slog.String("error", err.Error()))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.UserStore, error) {
	switch cfg.Store.Driver {
	case "", "mysql":
		return store.OpenMySQL(cfg.MySQL.DSN)
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return store.OpenMongo(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
