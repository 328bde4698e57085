package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"paperscape/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// newTestGormStore 使用临时 SQLite 文件运行真实的 GormUserStore。
func newTestGormStore(t *testing.T) *GormUserStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := NewGormUserStore(db)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormUserStore_CreateAndDuplicate(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	user, err := s.Create(ctx, NewUser{Email: " Alice@Example.com ", Password: "secret123"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.ID != user.ID || got.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", got)
	}
	if got.Active || got.Role != model.RoleUser || got.Origin != model.OriginLocal {
		t.Fatalf("unexpected defaults %+v", got)
	}
	if !CheckPassword(got, "secret123") {
		t.Fatalf("stored hash does not match")
	}

	_, err = s.Create(ctx, NewUser{Email: "alice@example.com", Password: "other-secret"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGormUserStore_ActivateOnce(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	user, err := s.Create(ctx, NewUser{Email: "a@example.com", Password: "secret123", ActivationCode: "code-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	activated, err := s.ActivateByCode(ctx, "code-1", time.Time{})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated.ID != user.ID || !activated.Active || activated.ActivationCode != nil {
		t.Fatalf("unexpected activated user %+v", activated)
	}

	stored, err := s.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if !stored.Active || stored.ActivationCode != nil {
		t.Fatalf("activation not persisted: %+v", stored)
	}

	if _, err := s.ActivateByCode(ctx, "code-1", time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replayed code: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ActivateByCode(ctx, "", time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty code: expected ErrNotFound, got %v", err)
	}
}

func TestGormUserStore_ActivateExpired(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()
	created := s.now()

	if _, err := s.Create(ctx, NewUser{Email: "a@example.com", Password: "secret123", ActivationCode: "code-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.ActivateByCode(ctx, "code-1", created.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired code: expected ErrNotFound, got %v", err)
	}
	stored, err := s.FindByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Active || stored.ActivationCode == nil {
		t.Fatalf("expired activation must not change the record: %+v", stored)
	}

	if _, err := s.ActivateByCode(ctx, "code-1", created.Add(-time.Hour)); err != nil {
		t.Fatalf("code within window: %v", err)
	}
}

func TestGormUserStore_Delete(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	user, err := s.Create(ctx, NewUser{Email: "a@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.FindByID(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.Create(ctx, NewUser{Email: "a@example.com", Password: "secret123"}); err != nil {
		t.Fatalf("email should be free after delete: %v", err)
	}
}

func TestGormUserStore_PromoteAndList(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	base := s.now()
	var ids []string
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		u, err := s.Create(ctx, NewUser{Email: email, Password: "secret123", ActivationCode: "code-" + email})
		if err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
		ids = append(ids, u.ID)
	}

	admin, err := s.Promote(ctx, ids[0], model.RoleAdmin)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if admin.Role != model.RoleAdmin || !admin.Active || admin.ActivationCode != nil {
		t.Fatalf("unexpected promoted user %+v", admin)
	}
	if _, err := s.Promote(ctx, ids[1], model.Role("root")); err == nil {
		t.Fatalf("expected invalid role to be rejected")
	}
	if _, err := s.Promote(ctx, "missing", model.RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}

	users, err := s.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 || users[0].ID != ids[2] || users[1].ID != ids[1] {
		t.Fatalf("expected newest first, got %+v", users)
	}
	rest, err := s.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != ids[0] {
		t.Fatalf("unexpected second page %+v", rest)
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
