package handler

import (
	"errors"
	"net/http"

	"mindcare-go/internal/model"
	"mindcare-go/internal/service"

	"github.com/gin-gonic/gin"
)

// currentUser 取出 AuthMiddleware 注入的用户对象。
func currentUser(c *gin.Context) (*model.User, bool) {
	value, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil, false
	}
	user, ok := value.(*model.User)
	if !ok || user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "用户数据类型错误"})
		return nil, false
	}
	return user, true
}

// respondError 把业务层错误映射为统一的 HTTP 响应。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSessionImmutable),
		errors.Is(err, service.ErrInterviewClosed),
		service.IsInvalidTransition(err):
		status = http.StatusConflict
	case errors.Is(err, service.ErrConsentRequired),
		errors.Is(err, service.ErrQuestionNotInPlan),
		errors.Is(err, service.ErrResponseOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrProviderUnavailable):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"code":    status,
		"message": err.Error(),
	})
}
