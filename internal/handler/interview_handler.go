// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mindcare-go/internal/model"
	"mindcare-go/internal/service"
	"mindcare-go/pkg/log"
	"mindcare-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// 访谈 WebSocket 令牌的有效期。前端在进入访谈页时获取，过期后需重新请求入口接口。
const interviewTokenTTL = 10 * time.Minute

// InterviewHandler 负责访谈环节的入口接口与 WebSocket 连接。
type InterviewHandler struct {
	assessment    service.AssessmentService
	interviews    service.InterviewService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewInterviewHandler 创建一个新的 InterviewHandler。
func NewInterviewHandler(
	assessment service.AssessmentService,
	interviews service.InterviewService,
	jwtManager *token.JWTManager,
) *InterviewHandler {
	return &InterviewHandler{
		assessment: assessment,
		interviews: interviews,
		jwtManager: jwtManager,
	}
}

// GetEntry 返回访谈引导信息与连接 WebSocket 所需的短时令牌。
// 首次调用即激活访谈环节。
func (h *InterviewHandler) GetEntry(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	sessionID := c.Param("id")
	view, err := h.assessment.ActivateStage(c.Request.Context(), user.ID, sessionID, model.ModuleInterview)
	if err != nil {
		log.Warnf("GetEntry: Failed to activate interview for session '%s', error: %v", sessionID, err)
		respondError(c, err)
		return
	}

	wsToken, err := h.jwtManager.GenerateInterviewToken(user.ID, user.Username, sessionID, interviewTokenTTL)
	if err != nil {
		log.Errorf("GetEntry: Failed to generate interview token for session '%s', error: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成访谈令牌失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"session": view.Session,
		"intro":   view.Intro,
		"capture": view.Capture,
		"wsToken": wsToken,
	}})
}

// GetWebsocketStopToken 返回一个可用于停止流的令牌。
func (h *InterviewHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 在真实的多服务器设置中，这应该在 Redis 中生成和存储
	// 为简单起见，我们在这里使用一个单一的、轮换的令牌。
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// Handle 处理一个传入的访谈 WebSocket 连接。
func (h *InterviewHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyInterviewToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	// 升级前校验会话归属与环节状态
	if _, err := h.assessment.RequireActiveModule(claims.UserID, claims.SessionID, model.ModuleInterview); err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	defer h.stopFlags.Delete(sessionKey(conn))

	log.Infof("访谈 WebSocket 连接已建立，用户: %s, 会话: %s", claims.Username, claims.SessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		// 1) JSON 停止指令: {"type":"stop","_internal_cmd_token":"..."}
		var ctrl map[string]interface{}
		if len(message) > 0 && message[0] == '{' {
			if err := json.Unmarshal(message, &ctrl); err == nil {
				if t, ok := ctrl["type"].(string); ok && t == "stop" {
					if tok, ok := ctrl["_internal_cmd_token"].(string); ok {
						h.stopTokenLock.Lock()
						valid := (tok == h.stopToken)
						h.stopTokenLock.Unlock()
						if valid {
							// 设置停止标志
							key := sessionKey(conn)
							h.stopFlags.Store(key, true)
							// 回发停止确认
							resp := map[string]interface{}{
								"type":      "stop",
								"message":   "响应已停止",
								"timestamp": time.Now().UnixMilli(),
								"date":      time.Now().Format("2006-01-02T15:04:05"),
							}
							b, _ := json.Marshal(resp)
							_ = conn.WriteMessage(websocket.TextMessage, b)
							continue
						}
					}
				}
			}
		}
		// 2) 旧停止令牌：整条消息等于 stopToken（保留兼容）
		h.stopTokenLock.Lock()
		stopTokenValue := h.stopToken
		h.stopTokenLock.Unlock()
		if string(message) == stopTokenValue {
			log.Info("收到停止指令，正在中断流式响应...")
			// 同样置位停止标志
			key := sessionKey(conn)
			h.stopFlags.Store(key, true)
			continue
		}

		// 调用 InterviewService 处理整轮对话与流式下发
		shouldStop := func() bool {
			key := sessionKey(conn)
			v, ok := h.stopFlags.Load(key)
			return ok && v.(bool)
		}
		// 清除旧标志
		h.stopFlags.Delete(sessionKey(conn))
		err = h.interviews.StreamTurn(c.Request.Context(), claims.SessionID, string(message), conn, shouldStop)
		if err != nil {
			// 轮次已用尽：结束语已由服务层下发，等前端调用完成接口
			if errors.Is(err, service.ErrInterviewClosed) {
				continue
			}
			log.Errorf("处理访谈流式响应失败: %v", err)
			// 统一 JSON 错误
			errResp := map[string]string{"error": "AI服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			conn.WriteMessage(websocket.TextMessage, b)
			resp := map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			}
			cb, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, cb)
			// 生成失败不修改访谈上下文，连接保留，同一发言可以原样重发
			if errors.Is(err, service.ErrProviderUnavailable) {
				continue
			}
			break
		}
	}
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
