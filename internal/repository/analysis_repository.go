package repository

import (
	"mindcare-go/internal/model"

	"gorm.io/gorm"
)

// AnalysisRepository 接口定义了会话分析结果的持久化操作。
type AnalysisRepository interface {
	Create(result *model.AnalysisResult) error
	FindBySession(sessionID string) ([]model.AnalysisResult, error)
	FindLatestBySession(sessionID string) (*model.AnalysisResult, error)
}

// analysisRepository 是 AnalysisRepository 接口的 GORM 实现。
type analysisRepository struct {
	db *gorm.DB
}

// NewAnalysisRepository 创建一个新的 AnalysisRepository 实例。
func NewAnalysisRepository(db *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

// Create 在数据库中创建一条分析结果。
func (r *analysisRepository) Create(result *model.AnalysisResult) error {
	return r.db.Create(result).Error
}

// FindBySession 按时间倒序返回一次会话的全部分析结果。
func (r *analysisRepository) FindBySession(sessionID string) ([]model.AnalysisResult, error) {
	var results []model.AnalysisResult
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&results).Error
	return results, err
}

// FindLatestBySession 返回一次会话最新的分析结果。
func (r *analysisRepository) FindLatestBySession(sessionID string) (*model.AnalysisResult, error) {
	var result model.AnalysisResult
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		First(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}
