// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"mindcare-go/internal/service"
	"mindcare-go/pkg/log"
	"mindcare-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
	}
}

func adminClaims(c *gin.Context) *token.CustomClaims {
	claimsValue, _ := c.Get("claims")
	return claimsValue.(*token.CustomClaims)
}

// ListSettings 处理获取全部运营设置的请求。
func (h *AdminHandler) ListSettings(c *gin.Context) {
	settings, err := h.adminService.ListSettings()
	if err != nil {
		log.Error("ListSettings: Failed to list settings", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取设置失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": settings})
}

// UpdateSettingsRequest 定义了批量更新设置 API 的请求体结构。
type UpdateSettingsRequest struct {
	Settings map[string]string `json:"settings" binding:"required"`
}

// UpdateSettings 处理批量更新运营设置的请求。
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("UpdateSettings: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	if err := h.adminService.UpdateSettings(req.Settings); err != nil {
		log.Error("UpdateSettings: Failed to update settings", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新设置失败", "data": nil})
		return
	}

	claims := adminClaims(c)
	log.Infof("Admin user '%s' updated %d settings", claims.Username, len(req.Settings))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "设置已更新", "data": nil})
}

// ListUsers 处理分页获取用户列表的请求。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	userList, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Error("ListUsers: Failed to list users", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取用户列表失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    userList,
	})
}

// ListSessions 处理分页获取会话列表的请求，支持按状态过滤。
func (h *AdminHandler) ListSessions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	state := c.Query("state")

	sessionList, err := h.adminService.ListSessions(state, page, size)
	if err != nil {
		log.Error("ListSessions: Failed to list sessions", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取会话列表失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    sessionList,
	})
}

// GetSessionDetail 处理获取单个会话完整汇总的请求，包含后台分析结果。
func (h *AdminHandler) GetSessionDetail(c *gin.Context) {
	summary, err := h.adminService.GetSessionDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summary})
}

// EraseSession 处理管理员删除会话全部数据的请求。
func (h *AdminHandler) EraseSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.adminService.EraseSession(c.Request.Context(), sessionID); err != nil {
		log.Error("EraseSession: Failed to erase session", err)
		respondError(c, err)
		return
	}

	claims := adminClaims(c)
	log.Infof("Admin user '%s' erased session '%s'", claims.Username, sessionID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "会话数据已删除", "data": nil})
}

// Statistics 处理获取后台统计汇总的请求。
func (h *AdminHandler) Statistics(c *gin.Context) {
	stats, err := h.adminService.Statistics()
	if err != nil {
		log.Error("Statistics: Failed to collect statistics", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取统计数据失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": stats})
}

// TriggerAnalysis 处理手动触发会话后台分析的请求。
func (h *AdminHandler) TriggerAnalysis(c *gin.Context) {
	sessionID := c.Param("id")
	claims := adminClaims(c)

	if err := h.adminService.TriggerAnalysis(sessionID, claims.Username); err != nil {
		log.Error("TriggerAnalysis: Failed to dispatch analysis task", err)
		respondError(c, err)
		return
	}

	log.Infof("Admin user '%s' triggered analysis for session '%s'", claims.Username, sessionID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "分析任务已提交", "data": nil})
}

// ListAnalyses 处理获取会话全部分析记录的请求。
func (h *AdminHandler) ListAnalyses(c *gin.Context) {
	results, err := h.adminService.ListAnalyses(c.Param("id"))
	if err != nil {
		log.Error("ListAnalyses: Failed to list analyses", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取分析记录失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}
