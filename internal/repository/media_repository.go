// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"mindcare-go/internal/model"

	"gorm.io/gorm"
)

// MediaRepository 接口定义了媒体采集记录的持久化操作。
type MediaRepository interface {
	Create(artifact *model.MediaArtifact) error
	FindBySession(sessionID string) ([]model.MediaArtifact, error)
	CountBySession(sessionID string) (int64, error)
	CountBySessionAndType(sessionID string) (map[string]int64, error)
}

// mediaRepository 是 MediaRepository 接口的 GORM 实现。
type mediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository 创建一个新的 MediaRepository 实例。
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &mediaRepository{db: db}
}

// Create 在数据库中创建一条媒体记录。
func (r *mediaRepository) Create(artifact *model.MediaArtifact) error {
	return r.db.Create(artifact).Error
}

// FindBySession 按采集时间有序返回一次会话的全部媒体记录。
func (r *mediaRepository) FindBySession(sessionID string) ([]model.MediaArtifact, error) {
	var artifacts []model.MediaArtifact
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("captured_at ASC").
		Find(&artifacts).Error
	return artifacts, err
}

// CountBySession 统计一次会话的媒体记录数。
func (r *mediaRepository) CountBySession(sessionID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.MediaArtifact{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

type mediaTypeCount struct {
	MediaType string
	Cnt       int64
}

// CountBySessionAndType 按媒体类型统计一次会话的记录数。
func (r *mediaRepository) CountBySessionAndType(sessionID string) (map[string]int64, error) {
	var rows []mediaTypeCount
	err := r.db.Model(&model.MediaArtifact{}).
		Select("media_type, COUNT(*) AS cnt").
		Where("session_id = ?", sessionID).
		Group("media_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.MediaType] = row.Cnt
	}
	return counts, nil
}
