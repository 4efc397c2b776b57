// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 媒体类型。
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// MediaArtifact 定义了 media_artifacts 表的 ORM 模型。
// 每行对应对象存储中的一个摄像头采集文件，并关联到采集发生时
// 屏幕上的题目或访谈轮次。先写对象、后写记录：任何一行的对象
// 在写入时刻都必然存在过。
type MediaArtifact struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"type:varchar(36);index;not null" json:"sessionId"`
	Module      string    `gorm:"type:varchar(32);not null" json:"module"`      // questionnaire | interview
	QuestionKey string    `gorm:"type:varchar(64);not null" json:"questionKey"` // 如 q_3_2 或 exchange_4
	MediaType   string    `gorm:"type:varchar(16);not null" json:"mediaType"`   // image | video
	ObjectPath  string    `gorm:"type:varchar(512);not null" json:"objectPath"`
	FileSize    int64     `gorm:"not null" json:"fileSize"`
	MimeType    string    `gorm:"type:varchar(64)" json:"mimeType"`
	CapturedAt  time.Time `gorm:"not null;index" json:"capturedAt"`
	Metadata    string    `gorm:"type:json" json:"metadata,omitempty"` // 分辨率、质量、时长等
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (MediaArtifact) TableName() string {
	return "media_artifacts"
}
