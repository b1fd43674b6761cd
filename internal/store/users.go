package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"askhub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateUser 创建用户。
//
// 流程:
//  1. 校验邮箱与昵称唯一
//  2. 未指定角色时按邮箱解析角色
//  3. 写入用户并创建自关注关系
//
// 调用方需先通过 SetPassword 设置密码哈希。
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.Email = strings.TrimSpace(u.Email)
	u.Username = strings.TrimSpace(u.Username)
	now := time.Now().UTC()
	if u.MemberSince.IsZero() {
		u.MemberSince = now
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = now
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, 0, u.Email, u.Username); err != nil {
			return err
		}

		if u.RoleID == nil {
			role, err := s.resolveRole(tx, u.Email)
			if err != nil {
				return fmt.Errorf("resolve role: %w", err)
			}
			if role != nil {
				u.RoleID = &role.ID
				u.Role = role
			}
		}

		if err := tx.Omit(clause.Associations).Create(u).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := follow(tx, u.ID, u.ID); err != nil {
			return fmt.Errorf("self follow: %w", err)
		}
		return nil
	})
}

// checkUnique 校验邮箱与昵称未被 excludeID 以外的用户使用。
func checkUnique(tx *gorm.DB, excludeID uint, email, username string) error {
	var count int64
	if err := tx.Model(&model.User{}).Where("email = ? AND id <> ?", email, excludeID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrEmailTaken
	}
	if err := tx.Model(&model.User{}).Where("username = ? AND id <> ?", username, excludeID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrUsernameTaken
	}
	return nil
}

// GetUser 按 ID 获取用户（含角色）。
func (s *Store) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Preload("Role").First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetUserByEmail 按邮箱获取用户（含角色）。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Preload("Role").Where("email = ?", strings.TrimSpace(email)).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// GetUserByUsername 按昵称获取用户（含角色）。
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Preload("Role").Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// Authenticate 校验邮箱和密码。
func (s *Store) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.VerifyPassword(password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// UpdateProfile 更新个人资料字段。
func (s *Store) UpdateProfile(ctx context.Context, id uint, name, location, aboutMe string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"name":     name,
		"location": location,
		"about_me": aboutMe,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccount 管理员修改账号信息，邮箱与昵称需保持唯一。
func (s *Store) UpdateAccount(ctx context.Context, u *model.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, u.ID, u.Email, u.Username); err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
			"email":     u.Email,
			"username":  u.Username,
			"confirmed": u.Confirmed,
			"role_id":   u.RoleID,
			"name":      u.Name,
			"location":  u.Location,
			"about_me":  u.AboutMe,
		}).Error
	})
}

// Ping 刷新最近访问时间。
func (s *Store) Ping(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		UpdateColumn("last_seen", time.Now().UTC()).Error
}

// ConfirmUser 标记邮箱已确认。
func (s *Store) ConfirmUser(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Update("confirmed", true).Error
}

// UpdatePassword 保存新的密码哈希。
func (s *Store) UpdatePassword(ctx context.Context, u *model.User) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", u.ID).
		Update("password_hash", u.PasswordHash).Error
}

// ChangeEmail 修改邮箱，新邮箱已被占用时返回 ErrEmailTaken。
func (s *Store) ChangeEmail(ctx context.Context, id uint, email string) error {
	email = strings.TrimSpace(email)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		return tx.Model(&model.User{}).Where("id = ?", id).Update("email", email).Error
	})
}

// DeleteUser 删除用户及其全部关注关系（双向）。用户发布的内容保留。
func (s *Store) DeleteUser(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("follower_id = ? OR followed_id = ?", id, id).Delete(&model.Follow{}).Error; err != nil {
			return fmt.Errorf("delete follows: %w", err)
		}
		res := tx.Delete(&model.User{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CountUsers 用户总数。
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.User{}).Count(&n).Error
	return n, err
}
