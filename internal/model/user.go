// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 用户角色。受测者注册默认为 PATIENT，管理员由种子数据或后台创建。
const (
	RolePatient = "PATIENT"
	RoleAdmin   = "ADMIN"
)

// User 定义了 users 表的 ORM 模型。
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	FullName  string    `gorm:"type:varchar(128)" json:"fullName"`
	Role      string    `gorm:"type:varchar(16);not null;default:'PATIENT'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}
