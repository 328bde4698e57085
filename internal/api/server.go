package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"paperscape/internal/account"
	"paperscape/internal/api/auth"
	"paperscape/internal/api/middleware"
	"paperscape/internal/api/respond"
	"paperscape/internal/config"
	"paperscape/internal/model"
	"paperscape/internal/pkg/apperr"
	"paperscape/internal/pkg/notify"
	"paperscape/internal/pkg/ratelimit"
	"paperscape/internal/pkg/token"
	"paperscape/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Deps 汇总 Server 的外部依赖，由调用方负责创建。
type Deps struct {
	Users  store.UserStore
	Redis  *redis.Client
	Mailer notify.Mailer
	Google account.GoogleProvider
}

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有用户存储、Redis 客户端、账户服务以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	users    store.UserStore
	rdb      *redis.Client
	router   *gin.Engine
	tokens   *token.Issuer
	accounts *account.Service
	auth     *auth.Handler
	guard    *middleware.Guard
	limiter  middleware.Limiter
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 创建令牌签发器与账户服务
// 2. 创建基于 Redis 的限流器（未配置 Redis 时不限流）
// 3. 初始化 Gin 路由引擎并注册路由
func NewServer(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Users == nil {
		return nil, errors.New("user store is required")
	}
	if strings.TrimSpace(cfg.Security.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.IsProduction() && cfg.Security.JWTSecret == config.DevJWTSecret {
		return nil, errors.New("jwt secret must be changed in production")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tokens := token.NewIssuer(cfg.Security.JWTSecret, cfg.Security.JWTTTL)
	accounts := account.NewService(account.Config{
		Users:         deps.Users,
		Tokens:        tokens,
		Mailer:        deps.Mailer,
		Google:        deps.Google,
		Logger:        logger,
		ActivationTTL: cfg.Security.ActivationTTL,
	})

	var limiter middleware.Limiter
	if deps.Redis != nil {
		limiter = ratelimit.NewRedisRateLimiter(deps.Redis, "paperscape:ratelimit:", cfg.App.RateLimit, cfg.App.RateBurst)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	if origin := strings.TrimRight(cfg.App.FrontendURL, "/"); origin != "" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{origin},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		users:    deps.Users,
		rdb:      deps.Redis,
		router:   r,
		tokens:   tokens,
		accounts: accounts,
		auth: auth.NewHandler(accounts, auth.Options{
			PublicURL:    cfg.App.PublicURL,
			FrontendURL:  cfg.App.FrontendURL,
			CookieTTL:    cfg.Security.CookieTTL,
			SecureCookie: cfg.IsProduction(),
		}, logger),
		guard:   middleware.NewGuard(tokens, deps.Users, logger),
		limiter: limiter,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭存储与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if closer, ok := s.users.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "API Working")
	})
	s.router.GET("/healthz", s.handleHealthz)

	// Prometheus metrics 端点，仅管理员可见
	s.router.GET("/metrics",
		s.guard.Protect(),
		middleware.RestrictTo(model.CapViewMetrics),
		gin.WrapH(promhttp.Handler()),
	)

	api := s.router.Group("/api")
	api.Use(middleware.RateLimit(s.limiter, s.logger))

	users := api.Group("/v1/users")
	users.POST("/login", s.auth.LoginOrSignup)
	users.GET("/logout", s.auth.Logout)
	users.GET("/activate/:token", s.auth.Activate)
	users.GET("/login/google/url", s.auth.GoogleAuthURL)
	users.GET("/login/google", s.auth.GoogleCallback)
	users.GET("/logged-in", s.guard.IsLoggedIn())

	authed := users.Group("")
	authed.Use(s.guard.Protect())
	authed.GET("/me", s.handleMe)
	authed.DELETE("/me", s.handleDeleteAccount)
	authed.GET("", middleware.RestrictTo(model.CapListUsers), s.handleListUsers)

	s.router.NoRoute(func(c *gin.Context) {
		respond.Error(c, s.logger, apperr.New(apperr.KindNotFound, fmt.Sprintf("Can't find %s on this server!", c.Request.URL.Path)))
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.users.Ping(ctx); err != nil {
		s.logger.Warn("healthz store ping failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.logger.Warn("healthz redis ping failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
