// Package pipeline 定义了后台分析任务的核心流程。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mindcare-go/internal/config"
	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/internal/service"
	"mindcare-go/pkg/llm"
	"mindcare-go/pkg/log"
	"mindcare-go/pkg/tasks"

	"gorm.io/gorm"
)

// Analyzer 封装了会话分析任务的所有依赖和逻辑。
// 它从消息队列接收已完成会话的分析任务，汇集量表与访谈数据，
// 调用 LLM 生成结构化分析，并把结果落库。
type Analyzer struct {
	sessionRepo      repository.SessionRepository
	conversationRepo repository.ConversationRepository
	analysisRepo     repository.AnalysisRepository
	questions        service.QuestionService
	settings         service.SettingsService
	llmClient        llm.Client
}

// NewAnalyzer 创建一个新的 Analyzer 实例。
func NewAnalyzer(
	sessionRepo repository.SessionRepository,
	conversationRepo repository.ConversationRepository,
	analysisRepo repository.AnalysisRepository,
	questions service.QuestionService,
	settings service.SettingsService,
	llmClient llm.Client,
) *Analyzer {
	return &Analyzer{
		sessionRepo:      sessionRepo,
		conversationRepo: conversationRepo,
		analysisRepo:     analysisRepo,
		questions:        questions,
		settings:         settings,
		llmClient:        llmClient,
	}
}

// Process 是分析任务的主函数。
func (a *Analyzer) Process(ctx context.Context, task tasks.AnalysisTask) error {
	log.Infof("[Analyzer] 开始分析会话, SessionID: %s, Trigger: %s", task.SessionID, task.Trigger)

	// 1. 加载会话，只有已完成的会话才有完整数据可分析
	session, err := a.sessionRepo.FindBySessionID(task.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[Analyzer] 会话不存在, SessionID: %s", task.SessionID)
			return fmt.Errorf("会话不存在: %s", task.SessionID)
		}
		return fmt.Errorf("查询会话失败: %w", err)
	}
	if session.State != model.StateCompleted {
		log.Warnf("[Analyzer] 会话 %s 未完成 (state=%s)，跳过分析", task.SessionID, session.State)
		return fmt.Errorf("会话未完成: %s", session.State)
	}

	// 2. 汇集量表得分与访谈记录
	log.Infof("[Analyzer] 步骤1: 汇集会话证据, SessionID: %s", task.SessionID)
	evidence, err := a.collectEvidence(session)
	if err != nil {
		return err
	}

	// 3. 调用 LLM 生成分析
	log.Infof("[Analyzer] 步骤2: 调用生成服务, Model: %s", config.Conf.LLM.Model)
	prompt := a.settings.GetString(service.KeyAnalysisPrompt)
	messages := []llm.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: evidence},
	}
	output, err := a.llmClient.CollectChatMessages(ctx, messages, nil)
	if err != nil {
		log.Errorf("[Analyzer] 生成分析失败, SessionID: %s, Error: %v", task.SessionID, err)
		a.recordFailure(task, err)
		return fmt.Errorf("生成分析失败: %w", err)
	}
	if strings.TrimSpace(output) == "" {
		log.Errorf("[Analyzer] 生成的分析内容为空, SessionID: %s", task.SessionID)
		a.recordFailure(task, errors.New("生成内容为空"))
		return errors.New("生成的分析内容为空")
	}

	// 4. 提取结构化内容并落库
	log.Infof("[Analyzer] 步骤3: 保存分析结果, 输出长度: %d 字符", len(output))
	body := extractJSONBody(output)
	result := &model.AnalysisResult{
		SessionID: task.SessionID,
		Model:     config.Conf.LLM.Model,
		Trigger:   task.Trigger,
		Status:    model.AnalysisStatusCompleted,
		Summary:   summaryOf(body),
		RawOutput: output,
	}
	if err := a.analysisRepo.Create(result); err != nil {
		log.Errorf("[Analyzer] 保存分析结果失败, SessionID: %s, Error: %v", task.SessionID, err)
		return fmt.Errorf("保存分析结果失败: %w", err)
	}

	log.Infof("[Analyzer] 会话分析完成, SessionID: %s, ResultID: %d", task.SessionID, result.ID)
	return nil
}

// collectEvidence 把会话的量表与访谈数据组装成一段 JSON 文本。
func (a *Analyzer) collectEvidence(session *model.AssessmentSession) (string, error) {
	score, err := a.questions.Score(session.SessionID)
	if err != nil {
		return "", fmt.Errorf("汇总量表得分失败: %w", err)
	}
	responses, err := a.questions.Responses(session.SessionID)
	if err != nil {
		return "", fmt.Errorf("查询作答明细失败: %w", err)
	}

	transcript := json.RawMessage("[]")
	logRecord, err := a.conversationRepo.FindLogBySession(session.SessionID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("查询访谈记录失败: %w", err)
		}
		log.Warnf("[Analyzer] 会话 %s 没有访谈记录，仅分析量表数据", session.SessionID)
	} else {
		transcript = json.RawMessage(logRecord.Transcript)
	}

	answers := make([]map[string]interface{}, 0, len(responses))
	for _, r := range responses {
		answers = append(answers, map[string]interface{}{
			"category": r.CategoryName,
			"question": r.QuestionText,
			"value":    r.ResponseValue,
		})
	}

	payload := map[string]interface{}{
		"sessionId":   session.SessionID,
		"moduleOrder": session.ModuleOrder,
		"totalScore":  score.TotalScore,
		"severity":    score.Severity,
		"categories":  score.Categories,
		"answers":     answers,
		"transcript":  transcript,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化分析输入失败: %w", err)
	}
	return string(b), nil
}

// recordFailure 落一条失败记录。落库本身失败时只记录日志，
// 不影响上层的重试判定。
func (a *Analyzer) recordFailure(task tasks.AnalysisTask, cause error) {
	result := &model.AnalysisResult{
		SessionID:    task.SessionID,
		Model:        config.Conf.LLM.Model,
		Trigger:      task.Trigger,
		Status:       model.AnalysisStatusFailed,
		ErrorMessage: cause.Error(),
	}
	if err := a.analysisRepo.Create(result); err != nil {
		log.Errorf("[Analyzer] 保存失败记录时出错, SessionID: %s, Error: %v", task.SessionID, err)
	}
}

// extractJSONBody 从模型输出中提取 JSON 主体，容忍 markdown 代码块包裹。
func extractJSONBody(output string) string {
	trimmed := strings.TrimSpace(output)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

// summaryOf 尝试取出结构化输出里的 summary 字段，取不到时整体截断。
func summaryOf(body string) string {
	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Summary != "" {
		return parsed.Summary
	}
	runes := []rune(body)
	if len(runes) > 500 {
		return string(runes[:500])
	}
	return body
}
