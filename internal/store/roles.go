package store

import (
	"context"
	"errors"
	"fmt"

	"askhub/internal/model"

	"gorm.io/gorm"
)

// InsertRoles 按预置定义创建或更新角色，可重复执行。
func (s *Store) InsertRoles(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, def := range model.DefaultRoles() {
			var role model.Role
			err := tx.Where("name = ?", def.Name).First(&role).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("find role %s: %w", def.Name, err)
			}
			role.Name = def.Name
			role.Permissions = def.Permissions
			role.Default = def.Default
			if err := tx.Save(&role).Error; err != nil {
				return fmt.Errorf("save role %s: %w", def.Name, err)
			}
		}
		return nil
	})
}

// Roles 按名称排序返回全部角色。
func (s *Store) Roles(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := s.db.WithContext(ctx).Order("name").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole 按 ID 获取角色。
func (s *Store) GetRole(ctx context.Context, id uint) (*model.Role, error) {
	var role model.Role
	if err := s.db.WithContext(ctx).First(&role, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &role, nil
}

// DefaultRole 返回新用户的默认角色。
func (s *Store) DefaultRole(ctx context.Context) (*model.Role, error) {
	var role model.Role
	if err := s.db.WithContext(ctx).Where("is_default = ?", true).First(&role).Error; err != nil {
		return nil, notFound(err)
	}
	return &role, nil
}

// resolveRole 确定新用户的角色：管理员邮箱对应 0xff 角色，其余为默认角色。
//
// 角色表为空时返回 nil，用户将没有任何权限。
func (s *Store) resolveRole(tx *gorm.DB, email string) (*model.Role, error) {
	var role model.Role
	if s.adminEmail != "" && email == s.adminEmail {
		err := tx.Where("permission = ?", model.AdminPermissions).First(&role).Error
		if err == nil {
			return &role, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	err := tx.Where("is_default = ?", true).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}
