// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"mindcare-go/internal/model"
	"mindcare-go/internal/service"
	"mindcare-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责评估会话生命周期相关的 API 请求。
type SessionHandler struct {
	assessment service.AssessmentService
	media      service.MediaService
	settings   service.SettingsService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(
	assessment service.AssessmentService,
	media service.MediaService,
	settings service.SettingsService,
) *SessionHandler {
	return &SessionHandler{
		assessment: assessment,
		media:      media,
		settings:   settings,
	}
}

// Start 创建一个新的评估会话。
func (h *SessionHandler) Start(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.assessment.Start(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("Start: Failed to create session for user '%s', error: %v", user.Username, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// Current 返回当前用户进行中的会话，供断点恢复。
func (h *SessionHandler) Current(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.assessment.Current(user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// Get 返回指定会话的状态视图。
func (h *SessionHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.assessment.RequireOwned(user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"sessionId":   session.SessionID,
		"moduleOrder": session.ModuleOrder,
		"state":       session.State,
		"nextStep":    session.NextStep(),
	}})
}

// GetConsent 返回知情同意书文本。
func (h *SessionHandler) GetConsent(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if _, err := h.assessment.RequireOwned(user.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"text": h.settings.GetString(service.KeyConsentFormText),
	}})
}

// ConsentRequest 定义了提交知情同意结果的请求体结构。
type ConsentRequest struct {
	Agreed *bool `json:"agreed" binding:"required"`
}

// SubmitConsent 记录知情同意结果。
func (h *SessionHandler) SubmitConsent(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：agreed 不能为空",
		})
		return
	}

	view, err := h.assessment.SubmitConsent(c.Request.Context(), user.ID, c.Param("id"), *req.Agreed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// VerifyCamera 记录摄像头检查通过。
func (h *SessionHandler) VerifyCamera(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.assessment.VerifyCamera(user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// GetCapturePolicy 返回摄像头采集策略。
func (h *SessionHandler) GetCapturePolicy(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if _, err := h.assessment.RequireOwned(user.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.media.CaptureConfig()})
}

// CompleteQuestionnaire 结束量表环节并计分。
func (h *SessionHandler) CompleteQuestionnaire(c *gin.Context) {
	h.completeModule(c, model.ModuleQuestionnaire)
}

// CompleteInterview 结束访谈环节并落库对话记录。
func (h *SessionHandler) CompleteInterview(c *gin.Context) {
	h.completeModule(c, model.ModuleInterview)
}

func (h *SessionHandler) completeModule(c *gin.Context, module string) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.assessment.CompleteModule(c.Request.Context(), user.ID, c.Param("id"), module)
	if err != nil {
		log.Warnf("CompleteModule: Failed for session '%s', module '%s', error: %v", c.Param("id"), module, err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// Discard 放弃会话。
func (h *SessionHandler) Discard(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.assessment.Abandon(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "会话已放弃", "data": view})
}

// Erase 受测者主动删除会话的全部数据。
func (h *SessionHandler) Erase(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	sessionID := c.Param("id")
	if _, err := h.assessment.RequireOwned(user.ID, sessionID); err != nil {
		respondError(c, err)
		return
	}
	if err := h.assessment.Erase(c.Request.Context(), sessionID); err != nil {
		log.Errorf("Erase: Failed for session '%s', error: %v", sessionID, err)
		respondError(c, err)
		return
	}

	log.Infof("User '%s' erased session '%s'", user.Username, sessionID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "会话数据已删除"})
}

// Summary 返回评估汇总。
func (h *SessionHandler) Summary(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	summary, err := h.assessment.Summary(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summary})
}
