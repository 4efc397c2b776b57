// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 设置值类型，决定 SettingsService 解析方式。
const (
	SettingTypeString = "string"
	SettingTypeInt    = "int"
	SettingTypeFloat  = "float"
	SettingTypeBool   = "bool"
	SettingTypeJSON   = "json"
)

// AppSetting 定义了 app_settings 表的 ORM 模型。
// 存放管理员可调的运营配置：量表类目与题目、标度范围与标签、
// 访谈提示词与轮次上限、采集策略等。部署级配置走 configs/config.yaml。
type AppSetting struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Key         string    `gorm:"column:setting_key;type:varchar(128);uniqueIndex;not null" json:"key"`
	Value       string    `gorm:"column:setting_value;type:text" json:"value"`
	ValueType   string    `gorm:"type:varchar(16);not null;default:'string'" json:"valueType"`
	Description string    `gorm:"type:varchar(255)" json:"description"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AppSetting) TableName() string {
	return "app_settings"
}
