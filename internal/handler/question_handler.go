// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"mindcare-go/internal/model"
	"mindcare-go/internal/service"
	"mindcare-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QuestionHandler 负责量表环节的 API 请求。
type QuestionHandler struct {
	assessment service.AssessmentService
	questions  service.QuestionService
}

// NewQuestionHandler 创建一个新的 QuestionHandler 实例。
func NewQuestionHandler(assessment service.AssessmentService, questions service.QuestionService) *QuestionHandler {
	return &QuestionHandler{assessment: assessment, questions: questions}
}

// GetCurrent 返回当前待作答的题目。首次调用即激活量表环节。
func (h *QuestionHandler) GetCurrent(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.assessment.ActivateStage(c.Request.Context(), user.ID, c.Param("id"), model.ModuleQuestionnaire)
	if err != nil {
		log.Warnf("GetCurrent: Failed to activate questionnaire for session '%s', error: %v", c.Param("id"), err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": view})
}

// SubmitResponse 保存一道题的作答并返回进度。
func (h *QuestionHandler) SubmitResponse(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req service.SubmitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：" + err.Error(),
		})
		return
	}

	sessionID := c.Param("id")
	if _, err := h.assessment.RequireActiveModule(user.ID, sessionID, model.ModuleQuestionnaire); err != nil {
		respondError(c, err)
		return
	}

	progress, err := h.questions.SaveResponse(c.Request.Context(), sessionID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": progress})
}
