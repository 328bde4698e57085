// Package account 实现本地邮箱/密码登录注册一体化流程与 Google 联合登录流程。
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"paperscape/internal/model"
	"paperscape/internal/pkg/apperr"
	"paperscape/internal/pkg/google"
	"paperscape/internal/pkg/metrics"
	"paperscape/internal/pkg/notify"
	"paperscape/internal/store"
)

const activationCodeBytes = 32

// 面向客户端的错误信息。
var (
	ErrMissingCredentials = apperr.BadRequest("Please provide email and password!")
	ErrActivationRequired = apperr.New(apperr.KindActivationRequired, "Please activate your account using the link in your email")
	ErrBadCredentials     = apperr.Unauthorized("Incorrect email or password")
	ErrEmailTaken         = apperr.Conflict("Email is already registered")
	ErrActivationInvalid  = apperr.BadRequest("The user does not exist or the activation link expired!")
	ErrMissingGoogleCode  = apperr.BadRequest("Missing authorization code")
)

const (
	msgActivationEmailFailed = "There was an error sending the activation email. Please try again later"
	msgGoogleFailed          = "There was an error logging in with Google. Please try again later"
)

// WrongOriginError 表示账户由第三方登录创建，不能使用密码登录。
func WrongOriginError(origin model.Origin) *apperr.Error {
	return apperr.Conflict(fmt.Sprintf("Password not linked to your account. Please login using %s", origin))
}

// TokenIssuer 签发会话令牌。
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// GoogleProvider 封装 Google OAuth 的两次网络交互。
type GoogleProvider interface {
	AuthCodeURL() string
	FetchProfile(ctx context.Context, code string) (*google.Profile, error)
}

// Session 是一次成功认证的结果。
type Session struct {
	User  *model.User
	Token string
}

// Service 负责账户认证流程。
type Service struct {
	users         store.UserStore
	tokens        TokenIssuer
	mailer        notify.Mailer
	google        GoogleProvider
	logger        *slog.Logger
	activationTTL time.Duration
	now           func() time.Time
	newCode       func() (string, error)
}

// Config 汇总 Service 的依赖。ActivationTTL 为 0 时激活链接永不过期。
type Config struct {
	Users         store.UserStore
	Tokens        TokenIssuer
	Mailer        notify.Mailer
	Google        GoogleProvider
	Logger        *slog.Logger
	ActivationTTL time.Duration
}

// NewService 创建账户服务。
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:         cfg.Users,
		tokens:        cfg.Tokens,
		mailer:        cfg.Mailer,
		google:        cfg.Google,
		logger:        logger,
		activationTTL: cfg.ActivationTTL,
		now:           time.Now,
		newCode:       generateActivationCode,
	}
}

// LoginOrSignup 对已激活的本地账户校验密码并签发令牌；对未知邮箱创建未激活账户并发送激活链接。
//
// activationBaseURL 形如 https://host/api/v1/users/activate，激活码会拼接在其后。
func (s *Service) LoginOrSignup(ctx context.Context, email, password, activationBaseURL string) (*Session, error) {
	email = store.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.signup(ctx, email, password, activationBaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !user.Active {
		s.record("local", "inactive")
		return nil, ErrActivationRequired
	}
	if user.Origin != model.OriginLocal {
		s.record("local", "wrong_origin")
		return nil, WrongOriginError(user.Origin)
	}
	if !store.CheckPassword(user, password) {
		s.record("local", "bad_password")
		s.logger.Warn("login rejected", slog.String("email", email))
		return nil, ErrBadCredentials
	}

	sess, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.record("local", "success")
	s.logger.Info("user logged in", slog.String("email", email), slog.String("role", string(user.Role)))
	return sess, nil
}

func (s *Service) signup(ctx context.Context, email, password, activationBaseURL string) error {
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generate activation code: %w", err)
	}

	user, err := s.users.Create(ctx, store.NewUser{
		Email:          email,
		Password:       password,
		Role:           model.RoleUser,
		Origin:         model.OriginLocal,
		ActivationCode: code,
	})
	if err != nil {
		var vErr *store.ValidationError
		switch {
		case errors.As(err, &vErr):
			s.record("local", "invalid")
			return apperr.Wrap(apperr.KindBadRequest, vErr.Message, err)
		case errors.Is(err, store.ErrDuplicate):
			s.record("local", "duplicate")
			return ErrEmailTaken
		default:
			return fmt.Errorf("create user: %w", err)
		}
	}

	link := strings.TrimRight(activationBaseURL, "/") + "/" + code
	if err := s.sendActivation(ctx, user.Email, link); err != nil {
		metrics.ActivationEmailsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("send activation email failed",
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		// 发送失败时删除记录，用户可以用同一邮箱重新注册
		if delErr := s.users.Delete(context.WithoutCancel(ctx), user.ID); delErr != nil {
			s.logger.Error("delete unactivated user failed",
				slog.String("email", user.Email),
				slog.String("error", delErr.Error()),
			)
		}
		s.record("local", "email_failed")
		return apperr.Wrap(apperr.KindUpstream, msgActivationEmailFailed, err)
	}

	metrics.ActivationEmailsTotal.WithLabelValues("sent").Inc()
	s.record("local", "signup")
	s.logger.Info("user registered", slog.String("email", user.Email))
	return ErrActivationRequired
}

func (s *Service) sendActivation(ctx context.Context, email, link string) error {
	if s.mailer == nil {
		return errors.New("email notifier not configured")
	}
	return s.mailer.SendActivationLink(ctx, email, link)
}

// Activate 兑换激活码：激活账户、清除激活码并签发令牌。激活码只能使用一次。
func (s *Service) Activate(ctx context.Context, code string) (*Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrActivationInvalid
	}

	var issuedAfter time.Time
	if s.activationTTL > 0 {
		issuedAfter = s.now().Add(-s.activationTTL)
	}
	user, err := s.users.ActivateByCode(ctx, code, issuedAfter)
	if errors.Is(err, store.ErrNotFound) {
		s.record("activate", "invalid")
		return nil, ErrActivationInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("activate user: %w", err)
	}

	sess, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.record("activate", "success")
	s.logger.Info("account activated", slog.String("email", user.Email))
	return sess, nil
}

// GoogleAuthURL 返回 Google 授权页面地址。
func (s *Service) GoogleAuthURL() string {
	if s.google == nil {
		return ""
	}
	return s.google.AuthCodeURL()
}

// GoogleLogin 用授权码换取 Google 用户信息，按邮箱查找或创建账户后签发令牌。
func (s *Service) GoogleLogin(ctx context.Context, code string) (*Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingGoogleCode
	}
	if s.google == nil {
		return nil, apperr.Wrap(apperr.KindUpstream, msgGoogleFailed, errors.New("google client not configured"))
	}

	profile, err := s.google.FetchProfile(ctx, code)
	if err == nil && (profile == nil || strings.TrimSpace(profile.Email) == "") {
		err = google.ErrNoEmail
	}
	if err != nil {
		s.record("google", "upstream_error")
		s.logger.Warn("google login failed", slog.String("error", err.Error()))
		return nil, apperr.Wrap(apperr.KindUpstream, msgGoogleFailed, err)
	}

	email := store.NormalizeEmail(profile.Email)
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.createGoogleUser(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	sess, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.record("google", "success")
	s.logger.Info("user logged in with google", slog.String("email", email))
	return sess, nil
}

func (s *Service) createGoogleUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.Create(ctx, store.NewUser{
		Email:  email,
		Role:   model.RoleUser,
		Active: true,
		Origin: model.OriginGoogle,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// 并发首次登录，读取先写入的记录
		user, err = s.users.FindByEmail(ctx, email)
	}
	if err != nil {
		var vErr *store.ValidationError
		if errors.As(err, &vErr) {
			return nil, apperr.Wrap(apperr.KindUpstream, msgGoogleFailed, err)
		}
		return nil, fmt.Errorf("create google user: %w", err)
	}
	s.logger.Info("google user created", slog.String("email", email))
	return user, nil
}

func (s *Service) issue(user *model.User) (*Session, error) {
	tok, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{User: user, Token: tok}, nil
}

func (s *Service) record(flow, result string) {
	metrics.AuthAttemptsTotal.WithLabelValues(flow, result).Inc()
}

func generateActivationCode() (string, error) {
	buf := make([]byte, activationCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
