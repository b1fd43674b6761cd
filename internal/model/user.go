package model

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordNotReadable 读取明文密码属于编程错误。
var ErrPasswordNotReadable = errors.New("password is not a readable attribute")

// User 表示系统用户。
//
// 关联数据（角色以外）不随用户加载，由 store 中的查询函数显式获取。
type User struct {
	ID           uint      `gorm:"primaryKey"`                   // 用户 ID
	Username     string    `gorm:"type:varchar(64);uniqueIndex"` // 昵称（唯一）
	Email        string    `gorm:"type:varchar(64);uniqueIndex"` // 邮箱（唯一）
	PasswordHash string    `gorm:"type:varchar(128)"`            // bcrypt 哈希
	Confirmed    bool      `gorm:"default:false"`                // 邮箱是否已确认
	Name         string    `gorm:"type:varchar(64)"`             // 真实姓名
	Location     string    `gorm:"type:varchar(64)"`             // 所在地
	AboutMe      string    `gorm:"type:text"`                    // 个人简介
	MemberSince  time.Time // 注册时间
	LastSeen     time.Time // 最近访问时间

	RoleID *uint `gorm:"index"`             // 所属角色
	Role   *Role `gorm:"foreignKey:RoleID"` // 需显式 Preload
}

// SetPassword 计算并保存密码哈希。
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return nil
}

// Password 明文密码不可读，调用即 panic。
func (u *User) Password() string {
	panic(ErrPasswordNotReadable)
}

// VerifyPassword 校验密码。
func (u *User) VerifyPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Can 判断用户角色是否拥有 p 中的全部权限。nil 用户视为匿名。
func (u *User) Can(p Permission) bool {
	return u != nil && u.Role.Can(p)
}

// IsAdministrator 是否为管理员。
func (u *User) IsAdministrator() bool {
	return u.Can(PermAdminister)
}

// IsAuthenticated 是否为已登录用户。
func (u *User) IsAuthenticated() bool {
	return u != nil && u.ID != 0
}
