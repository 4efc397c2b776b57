// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"mindcare-go/internal/service"
	"mindcare-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// MediaHandler 负责摄像头采集媒体的 API 请求。
type MediaHandler struct {
	assessment service.AssessmentService
	media      service.MediaService
}

// NewMediaHandler 创建一个新的 MediaHandler 实例。
func NewMediaHandler(assessment service.AssessmentService, media service.MediaService) *MediaHandler {
	return &MediaHandler{assessment: assessment, media: media}
}

// SaveMediaPayload 是上传采集文件的请求体。Data 为 base64 编码的文件内容，
// 允许携带 data URL 前缀（data:image/jpeg;base64,...）。
type SaveMediaPayload struct {
	Module      string                 `json:"module" binding:"required"`
	QuestionKey string                 `json:"questionKey"`
	MediaType   string                 `json:"mediaType" binding:"required"`
	Data        string                 `json:"data" binding:"required"`
	MimeType    string                 `json:"mimeType"`
	CapturedAt  string                 `json:"capturedAt"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Save 接收一个采集文件并保存。
func (h *MediaHandler) Save(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var payload SaveMediaPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：" + err.Error(),
		})
		return
	}

	sessionID := c.Param("id")
	if _, err := h.assessment.RequireActiveModule(user.ID, sessionID, payload.Module); err != nil {
		respondError(c, err)
		return
	}

	raw, mimeFromPrefix := stripDataURLPrefix(payload.Data)
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 base64 内容"})
		return
	}
	mimeType := payload.MimeType
	if mimeType == "" {
		mimeType = mimeFromPrefix
	}

	// 采集时间缺失或非法时使用服务端时间
	var capturedAt *time.Time
	if payload.CapturedAt != "" {
		if t, err := time.Parse(time.RFC3339, payload.CapturedAt); err == nil {
			capturedAt = &t
		} else {
			log.Warnf("Save: Invalid capturedAt '%s' for session '%s', using server time", payload.CapturedAt, sessionID)
		}
	}

	artifact, err := h.media.Save(c.Request.Context(), sessionID, &service.SaveMediaRequest{
		Module:      payload.Module,
		QuestionKey: payload.QuestionKey,
		MediaType:   payload.MediaType,
		Data:        data,
		MimeType:    mimeType,
		CapturedAt:  capturedAt,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		log.Errorf("Save: Failed to store media for session '%s', error: %v", sessionID, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"id":         artifact.ID,
		"objectPath": artifact.ObjectPath,
		"fileSize":   artifact.FileSize,
		"capturedAt": artifact.CapturedAt,
	}})
}

// List 返回会话的全部媒体记录。
func (h *MediaHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	sessionID := c.Param("id")
	if _, err := h.assessment.RequireOwned(user.ID, sessionID); err != nil {
		respondError(c, err)
		return
	}

	views, err := h.media.List(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": views})
}

// Validate 核对会话媒体记录与存储对象的一致性。
func (h *MediaHandler) Validate(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	sessionID := c.Param("id")
	if _, err := h.assessment.RequireOwned(user.ID, sessionID); err != nil {
		respondError(c, err)
		return
	}

	report, err := h.media.Validate(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": report})
}

// stripDataURLPrefix 去掉 data URL 前缀，返回纯 base64 内容与前缀中的 MIME 类型。
func stripDataURLPrefix(data string) (string, string) {
	if !strings.HasPrefix(data, "data:") {
		return data, ""
	}
	idx := strings.Index(data, ";base64,")
	if idx < 0 {
		return data, ""
	}
	return data[idx+len(";base64,"):], data[len("data:"):idx]
}
