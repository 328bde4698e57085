package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paperscape/internal/api/auth"
	"paperscape/internal/api/middleware"
	"paperscape/internal/api/respond"
	"paperscape/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// handleMe 返回当前登录用户。
func (s *Server) handleMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond.Error(c, s.logger, middleware.ErrNotLoggedIn)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "user": user})
}

// handleDeleteAccount 注销当前账户并清除会话 Cookie。
func (s *Server) handleDeleteAccount(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond.Error(c, s.logger, middleware.ErrNotLoggedIn)
		return
	}
	if err := s.users.Delete(c.Request.Context(), user.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		respond.Error(c, s.logger, err)
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.IsProduction(),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	s.logger.Info("account deleted", slog.String("email", user.Email))
	c.Status(http.StatusNoContent)
}

// handleListUsers 分页列出账户（管理员）。
func (s *Server) handleListUsers(c *gin.Context) {
	limit, offset := parseLimitOffset(c, defaultListLimit)
	users, err := s.users.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"results": len(users),
		"users":   users,
	})
}

func parseLimitOffset(c *gin.Context, defLimit int) (limit, offset int) {
	limit = defLimit
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxListLimit {
			limit = n
		}
	}
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
