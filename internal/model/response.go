// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// ScaleResponse 定义了 scale_responses 表的 ORM 模型。
// 每行对应一次量表作答，按 (会话, 类目编号, 题目序号) 唯一；
// 重复提交会覆盖已有作答而不是产生新行。
// 题目文本在保存时物化到行上，之后管理员修改题库不影响既有作答。
type ScaleResponse struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"type:varchar(36);not null;uniqueIndex:uk_scale_resp_entry,priority:1" json:"sessionId"`
	CategoryNumber int       `gorm:"not null;uniqueIndex:uk_scale_resp_entry,priority:2" json:"categoryNumber"`
	QuestionIndex  int       `gorm:"not null;uniqueIndex:uk_scale_resp_entry,priority:3" json:"questionIndex"`
	CategoryName   string    `gorm:"type:varchar(128)" json:"categoryName"`
	QuestionText   string    `gorm:"type:text;not null" json:"questionText"`
	ResponseValue  int       `gorm:"not null" json:"responseValue"`
	ResponseTimeMS *int64    `json:"responseTimeMs"`
	RespondedAt    time.Time `gorm:"not null" json:"respondedAt"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ScaleResponse) TableName() string {
	return "scale_responses"
}
