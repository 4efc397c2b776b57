// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"mindcare-go/internal/config"
	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/pkg/log"
	"mindcare-go/pkg/storage"

	"github.com/google/uuid"
)

// SaveMediaRequest 是保存一个摄像头采集文件的请求。
type SaveMediaRequest struct {
	Module      string
	QuestionKey string
	MediaType   string
	Data        []byte
	MimeType    string
	CapturedAt  *time.Time
	Metadata    map[string]interface{}
}

// MediaArtifactView 是媒体记录的展示视图，URL 为限时的预签名下载地址。
type MediaArtifactView struct {
	ID          uint      `json:"id"`
	Module      string    `json:"module"`
	QuestionKey string    `json:"questionKey"`
	MediaType   string    `json:"mediaType"`
	FileSize    int64     `json:"fileSize"`
	MimeType    string    `json:"mimeType"`
	CapturedAt  time.Time `json:"capturedAt"`
	Metadata    string    `json:"metadata,omitempty"`
	URL         string    `json:"url,omitempty"`
}

// CaptureConfig 是下发给前端的摄像头采集配置。
type CaptureConfig struct {
	Enabled         bool    `json:"enabled"`
	RecordingMode   string  `json:"recordingMode"`
	CaptureMode     string  `json:"captureMode"`
	IntervalSeconds int     `json:"intervalSeconds"`
	ImageQuality    float64 `json:"imageQuality"`
	Resolution      string  `json:"resolution"`
	VideoFormat     string  `json:"videoFormat"`
}

// MediaValidation 是媒体一致性核对的结果：只报告、不修复。
type MediaValidation struct {
	Total          int      `json:"total"`
	Valid          int      `json:"valid"`
	Missing        int      `json:"missing"`
	MissingDetails []string `json:"missingDetails"`
	IsValid        bool     `json:"isValid"`
}

// MediaService 接口定义摄像头采集媒体的操作。
type MediaService interface {
	// Save 保存一个采集文件：先写对象存储、成功后再写数据库记录。
	Save(ctx context.Context, sessionID string, req *SaveMediaRequest) (*model.MediaArtifact, error)
	// List 返回会话的全部媒体记录，附带预签名下载地址。
	List(sessionID string) ([]MediaArtifactView, error)
	// CaptureConfig 按当前设置组装采集配置。
	CaptureConfig() *CaptureConfig
	// Validate 核对每条记录对应的对象是否仍然存在。
	Validate(ctx context.Context, sessionID string) (*MediaValidation, error)
	// RemoveObjects 删除会话全部媒体的存储对象，数据库记录保留。
	RemoveObjects(ctx context.Context, sessionID string) (int, error)
	// Counts 返回会话按媒体类型的数量统计。
	Counts(sessionID string) (map[string]int64, error)
}

// mediaService 是 MediaService 接口的实现。
type mediaService struct {
	mediaRepo repository.MediaRepository
	settings  SettingsService
}

// NewMediaService 创建一个新的 MediaService 实例。
func NewMediaService(mediaRepo repository.MediaRepository, settings SettingsService) MediaService {
	return &mediaService{mediaRepo: mediaRepo, settings: settings}
}

// Save 保存采集文件。写入顺序保证任何一条记录的对象在落库时刻都存在过；
// 对象写成功但落库失败时只会留下孤儿对象，不会出现指向空文件的记录。
func (s *mediaService) Save(ctx context.Context, sessionID string, req *SaveMediaRequest) (*model.MediaArtifact, error) {
	if req.Module != model.ModuleQuestionnaire && req.Module != model.ModuleInterview {
		return nil, fmt.Errorf("未知的采集环节: %s", req.Module)
	}
	if req.MediaType != model.MediaTypeImage && req.MediaType != model.MediaTypeVideo {
		return nil, fmt.Errorf("未知的媒体类型: %s", req.MediaType)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("媒体内容为空")
	}
	questionKey := strings.TrimSpace(req.QuestionKey)
	if questionKey == "" {
		questionKey = "unspecified"
	}

	objectName := buildObjectPath(sessionID, req.Module, questionKey, req.MediaType, req.MimeType)
	bucket := config.Conf.MinIO.BucketName
	if err := storage.PutBytes(ctx, bucket, objectName, req.Data, req.MimeType); err != nil {
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	capturedAt := time.Now()
	if req.CapturedAt != nil {
		capturedAt = *req.CapturedAt
	}
	var metadata string
	if len(req.Metadata) > 0 {
		if b, err := json.Marshal(req.Metadata); err == nil {
			metadata = string(b)
		}
	}

	artifact := &model.MediaArtifact{
		SessionID:   sessionID,
		Module:      req.Module,
		QuestionKey: questionKey,
		MediaType:   req.MediaType,
		ObjectPath:  objectName,
		FileSize:    int64(len(req.Data)),
		MimeType:    req.MimeType,
		CapturedAt:  capturedAt,
		Metadata:    metadata,
	}
	if err := s.mediaRepo.Create(artifact); err != nil {
		// 落库失败时尽力删掉刚写入的对象，避免留下孤儿文件
		if rerr := storage.RemoveObject(ctx, bucket, objectName); rerr != nil {
			log.Errorf("[MediaService] 回收对象失败, object: %s, error: %v", objectName, rerr)
		}
		return nil, fmt.Errorf("保存媒体记录失败: %w", err)
	}

	log.Infof("[MediaService] 媒体已保存, sessionID: %s, object: %s, size: %d", sessionID, objectName, artifact.FileSize)
	return artifact, nil
}

// buildObjectPath 生成对象存储路径:
// assessments/{sessionID}/camera/{images|videos}/{module}/{questionKey}_{8位随机}{后缀}
func buildObjectPath(sessionID, module, questionKey, mediaType, mimeType string) string {
	kind := "images"
	if mediaType == model.MediaTypeVideo {
		kind = "videos"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return path.Join("assessments", sessionID, "camera", kind, module,
		fmt.Sprintf("%s_%s%s", sanitizeKey(questionKey), suffix, extensionFor(mediaType, mimeType)))
}

// sanitizeKey 把题目键里不适合做对象名的字符替换掉。
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}

func extensionFor(mediaType, mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	}
	if mediaType == model.MediaTypeVideo {
		return ".webm"
	}
	return ".jpg"
}

// List 返回会话的全部媒体记录，按采集时间排序。
func (s *mediaService) List(sessionID string) ([]MediaArtifactView, error) {
	artifacts, err := s.mediaRepo.FindBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询媒体记录失败: %w", err)
	}

	views := make([]MediaArtifactView, 0, len(artifacts))
	for _, a := range artifacts {
		view := MediaArtifactView{
			ID:          a.ID,
			Module:      a.Module,
			QuestionKey: a.QuestionKey,
			MediaType:   a.MediaType,
			FileSize:    a.FileSize,
			MimeType:    a.MimeType,
			CapturedAt:  a.CapturedAt,
			Metadata:    a.Metadata,
		}
		url, err := storage.GetPresignedURL(config.Conf.MinIO.BucketName, a.ObjectPath, time.Hour)
		if err != nil {
			// 对象可能已被清理，记录仍然展示，只是没有下载地址
			log.Warnf("[MediaService] 生成预签名地址失败, object: %s, error: %v", a.ObjectPath, err)
		} else {
			view.URL = url
		}
		views = append(views, view)
	}
	return views, nil
}

// CaptureConfig 按当前设置组装采集配置。
func (s *mediaService) CaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		Enabled:         s.settings.GetBool(KeyCaptureEnabled),
		RecordingMode:   s.settings.GetString(KeyRecordingMode),
		CaptureMode:     s.settings.GetString(KeyCaptureMode),
		IntervalSeconds: s.settings.GetInt(KeyCaptureInterval),
		ImageQuality:    s.settings.GetFloat(KeyCaptureQuality),
		Resolution:      s.settings.GetString(KeyCaptureResolution),
		VideoFormat:     s.settings.GetString(KeyVideoFormat),
	}
}

// Validate 逐条核对记录对应的对象是否存在。只报告缺失，从不修复。
func (s *mediaService) Validate(ctx context.Context, sessionID string) (*MediaValidation, error) {
	artifacts, err := s.mediaRepo.FindBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询媒体记录失败: %w", err)
	}

	result := &MediaValidation{Total: len(artifacts), MissingDetails: []string{}}
	bucket := config.Conf.MinIO.BucketName
	for _, a := range artifacts {
		if _, err := storage.StatObject(ctx, bucket, a.ObjectPath); err != nil {
			result.Missing++
			result.MissingDetails = append(result.MissingDetails, a.ObjectPath)
			continue
		}
		result.Valid++
	}
	result.IsValid = result.Missing == 0
	if result.Missing > 0 {
		log.Warnf("[MediaService] 会话 %s 有 %d 个媒体对象缺失", sessionID, result.Missing)
	}
	return result, nil
}

// RemoveObjects 删除会话全部媒体的存储对象，数据库记录保留为审计痕迹。
// 单个对象删除失败不中断整体清理。
func (s *mediaService) RemoveObjects(ctx context.Context, sessionID string) (int, error) {
	artifacts, err := s.mediaRepo.FindBySession(sessionID)
	if err != nil {
		return 0, fmt.Errorf("查询媒体记录失败: %w", err)
	}

	bucket := config.Conf.MinIO.BucketName
	removed := 0
	for _, a := range artifacts {
		if err := storage.RemoveObject(ctx, bucket, a.ObjectPath); err != nil {
			log.Warnf("[MediaService] 删除对象失败, object: %s, error: %v", a.ObjectPath, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("[MediaService] 会话 %s 的 %d 个媒体对象已删除", sessionID, removed)
	}
	return removed, nil
}

// Counts 返回会话按媒体类型的数量统计。
func (s *mediaService) Counts(sessionID string) (map[string]int64, error) {
	return s.mediaRepo.CountBySessionAndType(sessionID)
}
