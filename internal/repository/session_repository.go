// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"mindcare-go/internal/model"

	"gorm.io/gorm"
)

// SessionRepository 接口定义了评估会话的持久化操作。
type SessionRepository interface {
	Create(session *model.AssessmentSession) error
	FindBySessionID(sessionID string) (*model.AssessmentSession, error)
	FindActiveByUserID(userID uint) (*model.AssessmentSession, error)
	Update(session *model.AssessmentSession) error
	CountByOrder() (map[string]int64, error)
	CountByState() (map[model.SessionState]int64, error)
	CountBySeverity() (map[string]int64, error)
	FindWithPagination(state string, offset, limit int) ([]model.AssessmentSession, int64, error)
	DeleteCascade(sessionID string) error
}

// sessionRepository 是 SessionRepository 接口的 GORM 实现。
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *sessionRepository) Create(session *model.AssessmentSession) error {
	return r.db.Create(session).Error
}

// FindBySessionID 根据会话 ID 查找会话。
func (r *sessionRepository) FindBySessionID(sessionID string) (*model.AssessmentSession, error) {
	var session model.AssessmentSession
	err := r.db.Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActiveByUserID 查找用户当前处于非终态的会话（最多一条，取最新）。
func (r *sessionRepository) FindActiveByUserID(userID uint) (*model.AssessmentSession, error) {
	var session model.AssessmentSession
	err := r.db.
		Where("user_id = ? AND state NOT IN ?", userID, []model.SessionState{model.StateCompleted, model.StateAbandoned}).
		Order("started_at DESC").
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Update 更新数据库中一个已存在的会话记录。
func (r *sessionRepository) Update(session *model.AssessmentSession) error {
	return r.db.Save(session).Error
}

// orderCount 用于接收分组计数查询结果。
type orderCount struct {
	ModuleOrder string
	Cnt         int64
}

// CountByOrder 统计各环节顺序已被分配的次数（全部会话，含进行中与终态）。
func (r *sessionRepository) CountByOrder() (map[string]int64, error) {
	var rows []orderCount
	err := r.db.Model(&model.AssessmentSession{}).
		Select("module_order, COUNT(*) AS cnt").
		Group("module_order").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ModuleOrder] = row.Cnt
	}
	return counts, nil
}

type stateCount struct {
	State model.SessionState
	Cnt   int64
}

// CountByState 统计各状态下的会话数量。
func (r *sessionRepository) CountByState() (map[model.SessionState]int64, error) {
	var rows []stateCount
	err := r.db.Model(&model.AssessmentSession{}).
		Select("state, COUNT(*) AS cnt").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.SessionState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Cnt
	}
	return counts, nil
}

type severityCount struct {
	Severity string
	Cnt      int64
}

// CountBySeverity 统计已完成会话的严重程度分布。
func (r *sessionRepository) CountBySeverity() (map[string]int64, error) {
	var rows []severityCount
	err := r.db.Model(&model.AssessmentSession{}).
		Select("severity, COUNT(*) AS cnt").
		Where("state = ? AND severity <> ''", model.StateCompleted).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Severity] = row.Cnt
	}
	return counts, nil
}

// FindWithPagination 分页检索会话，state 为空时检索全部状态。
func (r *sessionRepository) FindWithPagination(state string, offset, limit int) ([]model.AssessmentSession, int64, error) {
	var sessions []model.AssessmentSession
	var total int64

	db := r.db.Model(&model.AssessmentSession{})
	if state != "" {
		db = db.Where("state = ?", state)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("started_at DESC").Offset(offset).Limit(limit).Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

// DeleteCascade 在一个事务中删除会话及其全部关联数据。
// 仅由受测者主动发起的抹除流程调用；常规放弃只改状态不删行。
func (r *sessionRepository) DeleteCascade(sessionID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ScaleResponse{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ConversationExchange{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ConversationLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.MediaArtifact{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.AnalysisResult{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).Delete(&model.AssessmentSession{}).Error
	})
}
