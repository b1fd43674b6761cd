package model

// Permission 权限位，多个权限按位或组合。
type Permission int

const (
	PermFollow           Permission = 0x01 // 关注其他用户
	PermComment          Permission = 0x02 // 在回答下评论
	PermWriteArticles    Permission = 0x04 // 提问与回答
	PermModerateComments Permission = 0x08 // 管理评论
	PermAdminister       Permission = 0x80 // 管理员
)

// 预置角色名称。
const (
	RoleUser          = "User"
	RoleModerator     = "Moderator"
	RoleAdministrator = "Administrator"
)

// AdminPermissions 管理员角色的权限掩码，满足任意权限检查。
const AdminPermissions Permission = 0xff

// Role 表示一组命名权限。
//
// 新用户默认获得 Default 为 true 的角色；权限掩码为 0xff 的角色即管理员。
type Role struct {
	ID          uint       `gorm:"primaryKey"`                   // 角色 ID
	Name        string     `gorm:"type:varchar(64);uniqueIndex"` // 角色名（唯一）
	Permissions Permission `gorm:"column:permission;not null"`   // 权限掩码
	Default     bool       `gorm:"column:is_default;index"`      // 是否为新用户的默认角色
}

// Can 判断角色是否拥有 p 中的全部权限位。nil 角色没有任何权限。
func (r *Role) Can(p Permission) bool {
	return r != nil && r.Permissions&p == p
}

// DefaultRoles 返回预置角色及其权限，InsertRoles 按此同步到数据库。
func DefaultRoles() []Role {
	return []Role{
		{Name: RoleUser, Permissions: PermFollow | PermComment | PermWriteArticles, Default: true},
		{Name: RoleModerator, Permissions: PermFollow | PermComment | PermWriteArticles | PermModerateComments},
		{Name: RoleAdministrator, Permissions: AdminPermissions},
	}
}
