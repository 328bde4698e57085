package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paperscape/internal/model"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

const mysqlDuplicateEntry = 1062

// GormUserStore 基于 GORM + MySQL 的用户存储。
type GormUserStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenMySQL 连接 MySQL 并执行自动迁移。
func OpenMySQL(dsn string) (*GormUserStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return NewGormUserStore(db), nil
}

// NewGormUserStore 使用已有的 gorm 连接创建存储。
func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db, now: time.Now}
}

func (s *GormUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return &user, nil
}

func (s *GormUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translateGormError(err)
	}
	return &user, nil
}

func (s *GormUserStore) Create(ctx context.Context, nu NewUser) (*model.User, error) {
	user, err := prepareUser(nu, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, translateGormError(err)
	}
	return user, nil
}

// ActivateByCode 在事务中锁定激活码对应的行，只有仍未激活时才更新。
func (s *GormUserStore) ActivateByCode(ctx context.Context, code string, issuedAfter time.Time) (*model.User, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	var user model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("activation_code = ? AND active = ?", code, false)
		if !issuedAfter.IsZero() {
			q = q.Where("created_at > ?", issuedAfter)
		}
		if err := q.First(&user).Error; err != nil {
			return err
		}

		res := tx.Model(&model.User{}).
			Where("id = ? AND active = ?", user.ID, false).
			Updates(map[string]interface{}{
				"active":          true,
				"activation_code": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		user.Active = true
		user.ActivationCode = nil
		return nil
	})
	if err != nil {
		return nil, translateGormError(err)
	}
	return &user, nil
}

func (s *GormUserStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.User{}).Error
}

func (s *GormUserStore) Promote(ctx context.Context, id string, role model.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Message: fmt.Sprintf("Invalid role: %s", role)}
	}
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"role":            role,
			"active":          true,
			"activation_code": nil,
		})
	if res.Error != nil {
		return nil, translateGormError(res.Error)
	}
	return s.FindByID(ctx, id)
}

func (s *GormUserStore) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GormUserStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭底层连接池。
func (s *GormUserStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translateGormError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isDuplicateKey(err):
		return ErrDuplicate
	default:
		return err
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqlDriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
