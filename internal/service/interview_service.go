// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindcare-go/internal/config"
	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/pkg/llm"
	"mindcare-go/pkg/log"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// InterviewIntro 是访谈环节开始前返回给前端的引导信息。
type InterviewIntro struct {
	Instructions string `json:"instructions"`
	MaxExchanges int    `json:"maxExchanges"`
	Remaining    int    `json:"remaining"`
}

// ExchangeView 是一轮问答的展示视图。
type ExchangeView struct {
	Sequence   int       `json:"sequence"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	AskedAt    time.Time `json:"askedAt"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// TranscriptView 是访谈记录的展示视图。访谈未落库时由 Redis 中的
// 进行中上下文拼出，Completed 为 false。
type TranscriptView struct {
	Completed       bool           `json:"completed"`
	TotalExchanges  int            `json:"totalExchanges"`
	DurationSeconds int            `json:"durationSeconds"`
	Model           string         `json:"model,omitempty"`
	Exchanges       []ExchangeView `json:"exchanges"`
}

// InterviewService 接口定义访谈环节的操作。
// 会话状态的校验由调用方（AssessmentService / handler）负责。
type InterviewService interface {
	// Begin 为会话初始化访谈上下文（提示词与轮次上限在此刻快照），
	// 已有上下文时原样返回引导信息，可安全重入。
	Begin(ctx context.Context, sessionID string) (*InterviewIntro, error)
	// StreamTurn 处理一轮对话：把受测者发言连同完整历史送入生成服务，
	// 流式下发回复。生成失败不在上下文中留下任何痕迹。
	StreamTurn(ctx context.Context, sessionID, userInput string, ws *websocket.Conn, shouldStop func() bool) error
	// Finalize 把访谈上下文落库为完整记录并清理 Redis 状态，可安全重入。
	Finalize(ctx context.Context, sessionID string) error
	// Transcript 返回访谈记录视图。
	Transcript(ctx context.Context, sessionID string) (*TranscriptView, error)
	// DiscardLiveState 丢弃 Redis 中的进行中上下文。
	DiscardLiveState(ctx context.Context, sessionID string) error
}

// interviewService 是 InterviewService 接口的实现。
type interviewService struct {
	stateRepo        repository.InterviewStateRepository
	conversationRepo repository.ConversationRepository
	settings         SettingsService
	llmClient        llm.Client
}

// NewInterviewService 创建一个新的 InterviewService 实例。
func NewInterviewService(
	stateRepo repository.InterviewStateRepository,
	conversationRepo repository.ConversationRepository,
	settings SettingsService,
	llmClient llm.Client,
) InterviewService {
	return &interviewService{
		stateRepo:        stateRepo,
		conversationRepo: conversationRepo,
		settings:         settings,
		llmClient:        llmClient,
	}
}

// Begin 初始化或恢复访谈上下文。
// 访谈提示词没有默认值，缺失时整个环节拒绝启动。
func (s *interviewService) Begin(ctx context.Context, sessionID string) (*InterviewIntro, error) {
	ic, err := s.loadOrInitContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &InterviewIntro{
		Instructions: s.settings.GetString(KeyInterviewInstructions),
		MaxExchanges: ic.MaxExchanges,
		Remaining:    ic.RemainingExchanges(),
	}, nil
}

// loadOrInitContext 读取进行中的上下文；缓存失效时按当前设置重建。
// 重建会丢失未落库的历史，但访谈仍可继续，只记录告警。
func (s *interviewService) loadOrInitContext(ctx context.Context, sessionID string) (*model.InterviewContext, error) {
	ic, err := s.stateRepo.Get(ctx, sessionID)
	if err != nil {
		log.Warnf("[InterviewService] 读取访谈上下文失败, sessionID: %s, error: %v", sessionID, err)
	}
	if ic != nil {
		return ic, nil
	}

	prompt, err := s.settings.GetRequiredString(KeyInterviewPrompt)
	if err != nil {
		return nil, err
	}
	maxExchanges := s.settings.GetInt(KeyInterviewMaxExchanges)
	if maxExchanges <= 0 {
		log.Warnf("[InterviewService] 轮次上限配置非法 (%d)，使用默认值 10", maxExchanges)
		maxExchanges = 10
	}

	ic = &model.InterviewContext{
		SessionID:    sessionID,
		SystemPrompt: prompt,
		MaxExchanges: maxExchanges,
		Temperature:  s.settings.GetFloat(KeyInterviewTemperature),
		StartedAt:    time.Now(),
	}
	if err := s.stateRepo.Save(ctx, ic); err != nil {
		return nil, fmt.Errorf("保存访谈上下文失败: %w", err)
	}
	log.Infof("[InterviewService] 访谈上下文已初始化, sessionID: %s, maxExchanges: %d", sessionID, maxExchanges)
	return ic, nil
}

// StreamTurn 协调一轮访谈对话并流式传输agent回复。
func (s *interviewService) StreamTurn(ctx context.Context, sessionID, userInput string, ws *websocket.Conn, shouldStop func() bool) error {
	ic, err := s.loadOrInitContext(ctx, sessionID)
	if err != nil {
		return err
	}

	// 轮次已用尽：不再生成，下发结束语
	if !ic.CanContinue() {
		s.sendClosing(ws)
		return ErrInterviewClosed
	}

	askedAt := time.Now()
	messages := s.composeMessages(ic, userInput)

	// 拦截 websocket writer 以捕获完整回复，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	if err := s.llmClient.StreamChatMessages(ctx, messages, s.generationParams(ic), interceptor); err != nil {
		// 失败的生成不修改上下文，同一发言可以原样重试
		log.Errorf("[InterviewService] 生成访谈回复失败, sessionID: %s, error: %v", sessionID, err)
		return ErrProviderUnavailable
	}

	fullAnswer := answerBuilder.String()
	if len(fullAnswer) == 0 {
		// 客户端中止且一个分块都没收到：视同本轮未发生
		sendCompletion(ws, ic.RemainingExchanges(), !ic.CanContinue())
		return nil
	}

	// 生成成功后才追加本轮并递增计数
	ic.AppendExchange(userInput, fullAnswer, askedAt, time.Now())
	// 使用后台上下文，因为即使原始请求被取消，我们也希望保存成功生成的回复
	if err := s.stateRepo.Save(context.Background(), ic); err != nil {
		// 只记录错误，不返回给客户端，因为流式响应已经成功
		log.Errorf("[InterviewService] 保存访谈上下文失败, sessionID: %s, error: %v", sessionID, err)
	}

	closed := !ic.CanContinue()
	sendCompletion(ws, ic.RemainingExchanges(), closed)
	if closed {
		// 本轮刚好用尽上限，顺带下发结束语
		s.sendClosing(ws)
	}
	return nil
}

// composeMessages 重建完整提示：1 条 system + 历史上每轮 2 条 + 本轮受测者发言。
func (s *interviewService) composeMessages(ic *model.InterviewContext, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(ic.Messages)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: ic.SystemPrompt})
	for _, m := range ic.Messages {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userInput})
	return msgs
}

func (s *interviewService) generationParams(ic *model.InterviewContext) *llm.GenerationParams {
	if ic.Temperature == 0 {
		return nil
	}
	t := ic.Temperature
	return &llm.GenerationParams{Temperature: &t}
}

// sendClosing 下发访谈结束语。
func (s *interviewService) sendClosing(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":    "closing",
		"message": s.settings.GetString(KeyInterviewClosing),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

// Finalize 把访谈上下文落库为完整记录。已落库或上下文缺失时不报错。
func (s *interviewService) Finalize(ctx context.Context, sessionID string) error {
	exists, err := s.conversationRepo.HasLog(sessionID)
	if err != nil {
		return fmt.Errorf("检查访谈记录失败: %w", err)
	}
	if exists {
		return nil
	}

	ic, err := s.stateRepo.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("读取访谈上下文失败: %w", err)
	}
	if ic == nil {
		// 上下文已丢失或访谈未产生任何轮次，落一条空记录供审计
		log.Warnf("[InterviewService] 访谈上下文缺失，落库空记录, sessionID: %s", sessionID)
		ic = &model.InterviewContext{SessionID: sessionID, StartedAt: time.Now()}
	}

	transcript, err := json.Marshal(ic.Messages)
	if err != nil {
		return fmt.Errorf("序列化访谈记录失败: %w", err)
	}
	logRecord := &model.ConversationLog{
		SessionID:       sessionID,
		Transcript:      string(transcript),
		PromptSnapshot:  ic.SystemPrompt,
		Model:           config.Conf.LLM.Model,
		TotalExchanges:  ic.ExchangeCount,
		DurationSeconds: int(time.Since(ic.StartedAt).Seconds()),
		CompletedAt:     time.Now(),
	}

	exchanges := pairExchanges(sessionID, ic.Messages)
	if err := s.conversationRepo.SaveCompleted(logRecord, exchanges); err != nil {
		return fmt.Errorf("保存访谈记录失败: %w", err)
	}
	if err := s.stateRepo.Delete(ctx, sessionID); err != nil {
		log.Warnf("[InterviewService] 清理访谈上下文失败, sessionID: %s, error: %v", sessionID, err)
	}
	log.Infof("[InterviewService] 访谈记录已落库, sessionID: %s, exchanges: %d", sessionID, ic.ExchangeCount)
	return nil
}

// pairExchanges 把 user/assistant 交替的消息列表按轮次配对。
func pairExchanges(sessionID string, messages []model.InterviewMessage) []model.ConversationExchange {
	exchanges := make([]model.ConversationExchange, 0, len(messages)/2)
	for i := 0; i+1 < len(messages); i += 2 {
		if messages[i].Role != "user" || messages[i+1].Role != "assistant" {
			continue
		}
		exchanges = append(exchanges, model.ConversationExchange{
			SessionID:  sessionID,
			Sequence:   len(exchanges) + 1,
			Question:   messages[i].Content,
			Answer:     messages[i+1].Content,
			AskedAt:    messages[i].Timestamp,
			AnsweredAt: messages[i+1].Timestamp,
		})
	}
	return exchanges
}

// Transcript 返回访谈记录视图，未落库时回落到进行中的上下文。
func (s *interviewService) Transcript(ctx context.Context, sessionID string) (*TranscriptView, error) {
	logRecord, err := s.conversationRepo.FindLogBySession(sessionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询访谈记录失败: %w", err)
	}
	if err == nil && logRecord != nil {
		exchanges, ferr := s.conversationRepo.FindExchangesBySession(sessionID)
		if ferr != nil {
			return nil, fmt.Errorf("查询访谈轮次失败: %w", ferr)
		}
		view := &TranscriptView{
			Completed:       true,
			TotalExchanges:  logRecord.TotalExchanges,
			DurationSeconds: logRecord.DurationSeconds,
			Model:           logRecord.Model,
			Exchanges:       make([]ExchangeView, 0, len(exchanges)),
		}
		for _, e := range exchanges {
			view.Exchanges = append(view.Exchanges, ExchangeView{
				Sequence:   e.Sequence,
				Question:   e.Question,
				Answer:     e.Answer,
				AskedAt:    e.AskedAt,
				AnsweredAt: e.AnsweredAt,
			})
		}
		return view, nil
	}

	ic, err := s.stateRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("读取访谈上下文失败: %w", err)
	}
	view := &TranscriptView{Exchanges: []ExchangeView{}}
	if ic == nil {
		return view, nil
	}
	view.TotalExchanges = ic.ExchangeCount
	view.DurationSeconds = int(time.Since(ic.StartedAt).Seconds())
	for _, e := range pairExchanges(sessionID, ic.Messages) {
		view.Exchanges = append(view.Exchanges, ExchangeView{
			Sequence:   e.Sequence,
			Question:   e.Question,
			Answer:     e.Answer,
			AskedAt:    e.AskedAt,
			AnsweredAt: e.AnsweredAt,
		})
	}
	return view, nil
}

// DiscardLiveState 丢弃 Redis 中的进行中上下文。
func (s *interviewService) DiscardLiveState(ctx context.Context, sessionID string) error {
	return s.stateRepo.Delete(ctx, sessionID)
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON，附带剩余轮次。
func sendCompletion(ws *websocket.Conn, remaining int, closed bool) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"remaining": remaining,
		"closed":    closed,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
