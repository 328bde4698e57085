package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"paperscape/internal/account"
	"paperscape/internal/api/respond"

	"github.com/gin-gonic/gin"
)

// CookieName 会话 Cookie 名称。
const CookieName = "jwt"

const (
	loggedOutValue = "loggedout"
	activatePath   = "/api/v1/users/activate"
	googleLanding  = "/home/author"
)

// Accounts 是 Handler 依赖的账户服务。
type Accounts interface {
	LoginOrSignup(ctx context.Context, email, password, activationBaseURL string) (*account.Session, error)
	Activate(ctx context.Context, code string) (*account.Session, error)
	GoogleAuthURL() string
	GoogleLogin(ctx context.Context, code string) (*account.Session, error)
}

// Options 控制 Cookie 与跳转地址。
type Options struct {
	// PublicURL 为空时根据请求的协议和 Host 生成激活链接。
	PublicURL    string
	FrontendURL  string
	CookieTTL    time.Duration
	SecureCookie bool
}

// Handler 提供登录、注销、激活与 Google 登录接口。
type Handler struct {
	accounts Accounts
	opts     Options
	logger   *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(accounts Accounts, opts Options, logger *slog.Logger) *Handler {
	if opts.CookieTTL <= 0 {
		opts.CookieTTL = 90 * 24 * time.Hour
	}
	return &Handler{accounts: accounts, opts: opts, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// LoginOrSignup 登录已激活账户，或为新邮箱创建账户并发送激活邮件。
func (h *Handler) LoginOrSignup(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		respond.Error(c, h.logger, account.ErrMissingCredentials)
		return
	}

	sess, err := h.accounts.LoginOrSignup(c.Request.Context(), req.Email, req.Password, h.activationBaseURL(c))
	if err != nil {
		respond.Error(c, h.logger, err)
		return
	}
	h.sendToken(c, sess)
}

// Logout 用过期的占位值覆盖会话 Cookie。
func (h *Handler) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    loggedOutValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Successfully logged out"})
}

// Activate 兑换激活链接中的激活码。
func (h *Handler) Activate(c *gin.Context) {
	sess, err := h.accounts.Activate(c.Request.Context(), c.Param("token"))
	if err != nil {
		respond.Error(c, h.logger, err)
		return
	}
	h.sendToken(c, sess)
}

// GoogleAuthURL 返回 Google 授权地址。
func (h *Handler) GoogleAuthURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "url": h.accounts.GoogleAuthURL()})
}

// GoogleCallback 处理 Google 回调：写入会话 Cookie 后跳转到前端。
func (h *Handler) GoogleCallback(c *gin.Context) {
	sess, err := h.accounts.GoogleLogin(c.Request.Context(), c.Query("code"))
	if err != nil {
		respond.Error(c, h.logger, err)
		return
	}
	h.setSessionCookie(c, sess.Token)
	c.Redirect(http.StatusFound, strings.TrimRight(h.opts.FrontendURL, "/")+googleLanding)
}

func (h *Handler) sendToken(c *gin.Context, sess *account.Session) {
	h.setSessionCookie(c, sess.Token)
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Logged in successfully!",
		"token":   sess.Token,
	})
}

func (h *Handler) setSessionCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(h.opts.CookieTTL),
	})
}

func (h *Handler) activationBaseURL(c *gin.Context) string {
	if base := strings.TrimRight(h.opts.PublicURL, "/"); base != "" {
		return base + activatePath
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + c.Request.Host + activatePath
}
