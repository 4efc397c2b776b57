// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// 触发来源。
const (
	TriggerAuto   = "auto"   // 会话完成后自动触发
	TriggerManual = "manual" // 管理员手动触发
)

// AnalysisTask represents an asynchronous transcript-analysis job for a
// completed assessment session.
type AnalysisTask struct {
	SessionID   string    `json:"session_id"`
	Trigger     string    `json:"trigger"`
	RequestedBy string    `json:"requested_by,omitempty"` // 手动触发时的管理员用户名
	RequestedAt time.Time `json:"requested_at"`
}
