package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"paperscape/internal/model"
	"paperscape/internal/store"
)

// SeedAdmin 确保配置中的管理员账户存在、已激活且角色为 admin。
// 未配置管理员邮箱时直接返回。
func (s *Server) SeedAdmin(ctx context.Context) error {
	email := store.NormalizeEmail(s.cfg.Security.AdminEmail)
	if email == "" {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("find admin: %w", err)
	}
	if errors.Is(err, store.ErrNotFound) {
		password := s.cfg.Security.AdminPassword
		if strings.TrimSpace(password) == "" {
			return errors.New("admin password is required to create the admin account")
		}
		created, err := s.users.Create(ctx, store.NewUser{
			Email:    email,
			Password: password,
			Role:     model.RoleAdmin,
			Active:   true,
			Origin:   model.OriginLocal,
		})
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		s.logger.Info("admin account created", slog.String("email", created.Email))
		return nil
	}

	if user.Role == model.RoleAdmin && user.Active {
		return nil
	}
	if _, err := s.users.Promote(ctx, user.ID, model.RoleAdmin); err != nil {
		return fmt.Errorf("promote admin: %w", err)
	}
	s.logger.Info("admin account promoted", slog.String("email", email))
	return nil
}
