// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"mindcare-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResponseRepository 接口定义了量表作答的持久化操作。
type ResponseRepository interface {
	Upsert(resp *model.ScaleResponse) error
	FindBySession(sessionID string) ([]model.ScaleResponse, error)
	CountBySession(sessionID string) (int64, error)
}

// responseRepository 是 ResponseRepository 接口的 GORM 实现。
type responseRepository struct {
	db *gorm.DB
}

// NewResponseRepository 创建一个新的 ResponseRepository 实例。
func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &responseRepository{db: db}
}

// Upsert 保存一次作答。同一 (会话, 类目, 题目序号) 的重复提交
// 覆盖已有行的作答值与时间信息，唯一索引保证并发下也不会产生重复行。
func (r *responseRepository) Upsert(resp *model.ScaleResponse) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "session_id"},
			{Name: "category_number"},
			{Name: "question_index"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"response_value", "response_time_ms", "responded_at", "question_text", "category_name",
		}),
	}).Create(resp).Error
}

// FindBySession 按类目与题目序号有序返回一次会话的全部作答。
func (r *responseRepository) FindBySession(sessionID string) ([]model.ScaleResponse, error) {
	var responses []model.ScaleResponse
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("category_number ASC, question_index ASC").
		Find(&responses).Error
	return responses, err
}

// CountBySession 统计一次会话已保存的作答数。
func (r *responseRepository) CountBySession(sessionID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.ScaleResponse{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}
