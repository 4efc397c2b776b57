// Package model 包含了应用的数据模型定义。
package model

import "time"

// InterviewMessage 代表访谈上下文中的单条消息。
// Role 取值 "user"（受测者）或 "assistant"（访谈agent）。
type InterviewMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationLog 是访谈结束时落库的完整记录：一行保存整段对话，
// 附带快照化的提示词与统计信息。每个会话至多一行。
type ConversationLog struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID       string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"sessionId"`
	Transcript      string    `gorm:"type:longtext;not null" json:"transcript"` // JSON 消息列表
	PromptSnapshot  string    `gorm:"type:text" json:"-"`
	Model           string    `gorm:"type:varchar(64)" json:"model"`
	TotalExchanges  int       `gorm:"not null" json:"totalExchanges"`
	DurationSeconds int       `gorm:"not null" json:"durationSeconds"`
	CompletedAt     time.Time `gorm:"not null" json:"completedAt"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConversationLog) TableName() string {
	return "conversation_logs"
}

// ConversationExchange 代表访谈中一次完整的问答交互（受测者一句 + agent一句）。
// 在整段记录之外按轮次逐行保存，便于检索与关联媒体。
type ConversationExchange struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"type:varchar(36);index;not null" json:"sessionId"`
	Sequence   int       `gorm:"not null" json:"sequence"` // 1 起始的轮次编号
	Question   string    `gorm:"type:text;not null" json:"question"`
	Answer     string    `gorm:"type:text;not null" json:"answer"`
	AskedAt    time.Time `gorm:"not null" json:"askedAt"`
	AnsweredAt time.Time `gorm:"not null" json:"answeredAt"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConversationExchange) TableName() string {
	return "conversation_exchanges"
}
