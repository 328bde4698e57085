package model

import "time"

// Role 表示用户角色。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Origin 表示账户来源（本地注册或第三方登录）。
type Origin string

const (
	OriginLocal  Origin = "Local"
	OriginGoogle Origin = "Google"
)

// Capability 表示一项受限操作的权限。
type Capability int

const (
	CapListUsers Capability = iota + 1
	CapViewMetrics
)

var roleCapabilities = map[Role][]Capability{
	RoleUser:  nil,
	RoleAdmin: {CapListUsers, CapViewMetrics},
}

// Valid 判断角色是否属于已知集合。
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Can 判断角色是否拥有指定权限。
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// Valid 判断来源是否属于已知集合。
func (o Origin) Valid() bool {
	return o == OriginLocal || o == OriginGoogle
}

// User 表示系统用户。
//
// 本地账户创建时处于未激活状态并带有激活码；Google 账户创建即激活且没有密码。
type User struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" bson:"_id" json:"id"`                              // 用户 ID (UUID)
	Email          string    `gorm:"type:varchar(191);uniqueIndex;not null" bson:"email" json:"email"`             // 邮箱（唯一，小写）
	PasswordHash   string    `gorm:"column:password;type:varchar(72)" bson:"password,omitempty" json:"-"`          // bcrypt 哈希，第三方账户为空
	Role           Role      `gorm:"type:varchar(16);default:user;not null" bson:"role" json:"role"`               // 角色: user / admin
	Active         bool      `gorm:"default:false;not null" bson:"active" json:"active"`                           // 是否已激活
	Origin         Origin    `gorm:"type:varchar(16);default:Local;not null" bson:"origin" json:"origin"`          // 来源: Local / Google
	ActivationCode *string   `gorm:"type:varchar(64);uniqueIndex" bson:"activation_code,omitempty" json:"-"`       // 激活码，激活后清空
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`                                                  // 创建时间
}

// HasPassword 判断账户是否设置了本地密码。
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}
