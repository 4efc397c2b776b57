// Package repository 包含了所有与数据库交互的逻辑。
package repository

import (
	"mindcare-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingRepository 接口定义了运营设置的持久化操作。
type SettingRepository interface {
	Get(key string) (*model.AppSetting, error)
	FindAll() ([]model.AppSetting, error)
	Upsert(setting *model.AppSetting) error
	// CreateIfMissing 批量写入缺失的设置项，已存在的键保持原值不变。
	CreateIfMissing(settings []model.AppSetting) error
}

// settingRepository 是 SettingRepository 接口的 GORM 实现。
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository 创建一个新的 SettingRepository 实例。
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// Get 根据键查找一条设置。
func (r *settingRepository) Get(key string) (*model.AppSetting, error) {
	var setting model.AppSetting
	err := r.db.Where("setting_key = ?", key).First(&setting).Error
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// FindAll 按键有序返回全部设置。
func (r *settingRepository) FindAll() ([]model.AppSetting, error) {
	var settings []model.AppSetting
	err := r.db.Order("setting_key ASC").Find(&settings).Error
	return settings, err
}

// Upsert 写入或覆盖一条设置。
func (r *settingRepository) Upsert(setting *model.AppSetting) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"setting_value", "value_type", "description",
		}),
	}).Create(setting).Error
}

// CreateIfMissing 批量写入缺失的设置项；冲突时什么都不做，保证
// 启动时的默认值种子不会覆盖管理员已有的修改。
func (r *settingRepository) CreateIfMissing(settings []model.AppSetting) error {
	if len(settings) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoNothing: true,
	}).Create(&settings).Error
}
