package model

import "time"

// 分析任务状态。
const (
	AnalysisStatusCompleted = "completed"
	AnalysisStatusFailed    = "failed"
)

// AnalysisResult 定义了 analysis_results 表的 ORM 模型。
// 保存后台 worker 对已完成会话的 LLM 分析产出；一个会话可以被
// 多次分析（自动一次 + 管理员手动重跑）。
type AnalysisResult struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string    `gorm:"type:varchar(36);index;not null" json:"sessionId"`
	Model        string    `gorm:"type:varchar(64)" json:"model"`
	Trigger      string    `gorm:"type:varchar(16)" json:"trigger"` // auto | manual
	Status       string    `gorm:"type:varchar(16);not null" json:"status"`
	Summary      string    `gorm:"type:text" json:"summary"`
	RawOutput    string    `gorm:"type:longtext" json:"-"`
	ErrorMessage string    `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AnalysisResult) TableName() string {
	return "analysis_results"
}
