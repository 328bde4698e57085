package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"paperscape/internal/api/respond"
	"paperscape/internal/model"
	"paperscape/internal/pkg/apperr"
	"paperscape/internal/pkg/metrics"
	"paperscape/internal/store"

	"github.com/gin-gonic/gin"
)

// 上下文中保存当前用户的键。
const (
	ContextUser   = "user"
	ContextUserID = "userID"
)

const sessionCookie = "jwt"

var (
	// ErrNotLoggedIn 请求未携带令牌。
	ErrNotLoggedIn  = apperr.Unauthorized("You are not logged in! Please log in to get access")
	errInvalidToken = apperr.Unauthorized("Invalid or expired token. Please log in again")
	errUserGone     = apperr.Unauthorized("The user belonging to this token no longer exists")
	errNoPermission = apperr.Forbidden("You do not have permission to perform this action")
)

const msgWelcome = "Welcome to Paperscape!"

// TokenVerifier 校验令牌并返回其中的用户 ID。
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserFinder 按 ID 加载令牌所属的账户。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Guard 从 Bearer 令牌或会话 Cookie 中解析当前用户。
type Guard struct {
	tokens TokenVerifier
	users  UserFinder
	logger *slog.Logger
}

func NewGuard(tokens TokenVerifier, users UserFinder, logger *slog.Logger) *Guard {
	return &Guard{tokens: tokens, users: users, logger: logger}
}

// Protect 校验令牌并将 user / userID 写入上下文。
func (g *Guard) Protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := g.authenticate(c); !ok {
			return
		}
		c.Next()
	}
}

// IsLoggedIn 校验令牌后直接返回欢迎信息。
func (g *Guard) IsLoggedIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := g.authenticate(c); !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": msgWelcome})
		c.Abort()
	}
}

// RestrictTo 必须放在 Protect 之后，角色不具备 capability 时返回 403。
func RestrictTo(capability model.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || !user.Role.Can(capability) {
			metrics.TokenRejectionsTotal.WithLabelValues("forbidden").Inc()
			respond.Error(c, nil, errNoPermission)
			return
		}
		c.Next()
	}
}

// CurrentUser 返回 Protect 写入的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok && user != nil
}

func (g *Guard) authenticate(c *gin.Context) (*model.User, bool) {
	raw := extractToken(c)
	if raw == "" {
		metrics.TokenRejectionsTotal.WithLabelValues("missing").Inc()
		respond.Error(c, g.logger, ErrNotLoggedIn)
		return nil, false
	}

	userID, err := g.tokens.Verify(raw)
	if err != nil {
		metrics.TokenRejectionsTotal.WithLabelValues("invalid").Inc()
		respond.Error(c, g.logger, errInvalidToken)
		return nil, false
	}

	user, err := g.users.FindByID(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.TokenRejectionsTotal.WithLabelValues("user_gone").Inc()
		respond.Error(c, g.logger, errUserGone)
		return nil, false
	}
	if err != nil {
		respond.Error(c, g.logger, err)
		return nil, false
	}

	c.Set(ContextUser, user)
	c.Set(ContextUserID, user.ID)
	return user, true
}

// extractToken 优先读取 Authorization 头，其次读取会话 Cookie。
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if tok := strings.TrimSpace(parts[1]); tok != "" {
				return tok
			}
		}
	}
	if ck, err := c.Cookie(sessionCookie); err == nil {
		return ck
	}
	return ""
}
