// Package repository 提供了数据访问层的实现。
package repository

import (
	"mindcare-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了访谈落库记录的操作接口。
// 访谈进行中的上下文在 Redis（见 InterviewStateRepository），
// 这里只负责结束后的持久化副本。
type ConversationRepository interface {
	// SaveCompleted 在一个事务中写入整段对话记录与逐轮交互行。
	SaveCompleted(logRecord *model.ConversationLog, exchanges []model.ConversationExchange) error
	FindLogBySession(sessionID string) (*model.ConversationLog, error)
	FindExchangesBySession(sessionID string) ([]model.ConversationExchange, error)
	HasLog(sessionID string) (bool, error)
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// SaveCompleted 原子地保存访谈结果：要么整段记录和全部轮次一起落库，
// 要么什么都不写。
func (r *conversationRepository) SaveCompleted(logRecord *model.ConversationLog, exchanges []model.ConversationExchange) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(logRecord).Error; err != nil {
			return err
		}
		if len(exchanges) == 0 {
			return nil
		}
		return tx.Create(&exchanges).Error
	})
}

// FindLogBySession 查找一次会话的整段对话记录。
func (r *conversationRepository) FindLogBySession(sessionID string) (*model.ConversationLog, error) {
	var logRecord model.ConversationLog
	err := r.db.Where("session_id = ?", sessionID).First(&logRecord).Error
	if err != nil {
		return nil, err
	}
	return &logRecord, nil
}

// FindExchangesBySession 按轮次有序返回一次会话的全部交互。
func (r *conversationRepository) FindExchangesBySession(sessionID string) ([]model.ConversationExchange, error) {
	var exchanges []model.ConversationExchange
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Find(&exchanges).Error
	return exchanges, err
}

// HasLog 判断一次会话是否已有落库的对话记录（结束操作的幂等依据）。
func (r *conversationRepository) HasLog(sessionID string) (bool, error) {
	var count int64
	err := r.db.Model(&model.ConversationLog{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count > 0, err
}
