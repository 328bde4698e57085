// Package store 提供用户凭据的持久化，支持 MySQL (GORM) 与 MongoDB 两种后端。
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paperscape/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength 本地密码的最小长度。
const MinPasswordLength = 7

// MaxPasswordLength 是 bcrypt 可处理的最大字节数。
const MaxPasswordLength = 72

// MaxEmailLength 与 users.email 列宽一致。
const MaxEmailLength = 191

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("store: user not found")
	// ErrDuplicate 表示违反邮箱唯一约束。
	ErrDuplicate = errors.New("store: email already exists")
)

// ValidationError 表示写入前的字段校验失败，Message 可直接返回给客户端。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UserStore 定义用户存储的全部操作。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, nu NewUser) (*model.User, error)
	// ActivateByCode 原子地查找激活码对应的未激活账户，将其激活并清除激活码。
	// issuedAfter 为零值时激活码永不过期。
	ActivateByCode(ctx context.Context, code string, issuedAfter time.Time) (*model.User, error)
	Delete(ctx context.Context, id string) error
	// Promote 设置角色并激活账户，同时清除未使用的激活码。
	Promote(ctx context.Context, id string, role model.Role) (*model.User, error)
	List(ctx context.Context, limit, offset int) ([]model.User, error)
	Ping(ctx context.Context) error
}

// NewUser 描述待创建的用户，Password 为明文，由存储层负责哈希。
type NewUser struct {
	Email          string
	Password       string
	Role           model.Role
	Active         bool
	Origin         model.Origin
	ActivationCode string
}

var validate = validator.New()

// NormalizeEmail 去除空白并转为小写。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// prepareUser 校验字段、哈希密码并生成 ID，两种后端共用。
func prepareUser(nu NewUser, now time.Time) (*model.User, error) {
	email := NormalizeEmail(nu.Email)
	if email == "" {
		return nil, &ValidationError{Field: "email", Message: "Please provide your email"}
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, &ValidationError{Field: "email", Message: "Please provide a valid email"}
	}
	if err := validate.Var(email, fmt.Sprintf("max=%d", MaxEmailLength)); err != nil {
		return nil, &ValidationError{
			Field:   "email",
			Message: fmt.Sprintf("Email must be at most %d characters", MaxEmailLength),
		}
	}

	role := nu.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("Invalid role: %s", role)}
	}
	origin := nu.Origin
	if origin == "" {
		origin = model.OriginLocal
	}
	if !origin.Valid() {
		return nil, &ValidationError{Field: "origin", Message: fmt.Sprintf("Invalid origin: %s", origin)}
	}

	user := &model.User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      role,
		Active:    nu.Active,
		Origin:    origin,
		CreatedAt: now.UTC(),
	}

	if nu.Password != "" {
		if len(nu.Password) < MinPasswordLength {
			return nil, &ValidationError{
				Field:   "password",
				Message: fmt.Sprintf("Password must be at least %d characters", MinPasswordLength),
			}
		}
		if len(nu.Password) > MaxPasswordLength {
			return nil, &ValidationError{
				Field:   "password",
				Message: fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength),
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}
	if code := strings.TrimSpace(nu.ActivationCode); code != "" {
		user.ActivationCode = &code
	}
	return user, nil
}

// CheckPassword 比较明文密码与账户的 bcrypt 哈希。
func CheckPassword(user *model.User, password string) bool {
	if !user.HasPassword() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}
