// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/pkg/log"
)

// 总分到严重程度档位的映射边界。
const (
	SeverityMinimal          = "minimal"
	SeverityMild             = "mild"
	SeverityModerate         = "moderate"
	SeverityModeratelySevere = "moderately_severe"
	SeveritySevere           = "severe"
)

// ScaleView 是作答标度的展示快照。
type ScaleView struct {
	Min    int            `json:"min"`
	Max    int            `json:"max"`
	Labels map[int]string `json:"labels"`
}

// QuestionView 是当前待答题目的视图。Done 为真时其余题目字段无意义。
type QuestionView struct {
	Done           bool      `json:"done"`
	Position       int       `json:"position"` // 全卷内序号，1 起始
	Total          int       `json:"total"`
	Answered       int       `json:"answered"`
	CategoryNumber int       `json:"categoryNumber"`
	CategoryName   string    `json:"categoryName"`
	QuestionIndex  int       `json:"questionIndex"`
	QuestionText   string    `json:"questionText"`
	Scale          ScaleView `json:"scale"`
}

// SubmitResponseRequest 是提交一道题作答的请求体。
type SubmitResponseRequest struct {
	CategoryNumber int    `json:"categoryNumber" binding:"required"`
	QuestionIndex  int    `json:"questionIndex"`
	ResponseValue  int    `json:"responseValue"`
	ResponseTimeMS *int64 `json:"responseTimeMs"`
}

// AnswerProgress 是一次作答后的进度反馈。
type AnswerProgress struct {
	Answered int  `json:"answered"`
	Total    int  `json:"total"`
	Done     bool `json:"done"`
}

// CategoryScore 是单个类目的得分汇总，Average 仅用于报告展示。
type CategoryScore struct {
	CategoryNumber int     `json:"categoryNumber"`
	CategoryName   string  `json:"categoryName"`
	Sum            int     `json:"sum"`
	Count          int     `json:"count"`
	Average        float64 `json:"average"`
}

// ScoreResult 是量表环节的计分结果。TotalScore 是全部作答值的总和，
// 严重程度档位只由它决定。
type ScoreResult struct {
	TotalScore  int             `json:"totalScore"`
	Severity    string          `json:"severity"`
	AnswerCount int             `json:"answerCount"`
	Categories  []CategoryScore `json:"categories"`
}

// QuestionService 接口定义量表题目池与计分操作。
// 会话状态的校验由调用方（AssessmentService / handler）负责。
type QuestionService interface {
	// Plan 返回会话的量表计划，缓存缺失时按当前设置重建。
	Plan(ctx context.Context, sessionID string) (*model.QuestionnairePlan, error)
	// CurrentQuestion 返回按计划顺序第一道未作答的题目。
	CurrentQuestion(ctx context.Context, sessionID string) (*QuestionView, error)
	// SaveResponse 保存一道题的作答，同一题重复提交覆盖旧值。
	SaveResponse(ctx context.Context, sessionID string, req *SubmitResponseRequest) (*AnswerProgress, error)
	// Score 汇总会话的全部作答并给出严重程度档位。
	Score(sessionID string) (*ScoreResult, error)
	// Responses 返回会话的全部作答明细。
	Responses(sessionID string) ([]model.ScaleResponse, error)
	// InvalidatePlan 丢弃缓存的量表计划。
	InvalidatePlan(ctx context.Context, sessionID string) error
}

// questionService 是 QuestionService 接口的实现。
type questionService struct {
	planRepo     repository.QuestionPlanRepository
	responseRepo repository.ResponseRepository
	settings     SettingsService
}

// NewQuestionService 创建一个新的 QuestionService 实例。
func NewQuestionService(
	planRepo repository.QuestionPlanRepository,
	responseRepo repository.ResponseRepository,
	settings SettingsService,
) QuestionService {
	return &questionService{
		planRepo:     planRepo,
		responseRepo: responseRepo,
		settings:     settings,
	}
}

// Plan 返回缓存的计划；缓存失效时按当前设置重建并回写。
// 作答以 (类目, 序号) 为键，重建后的计划不会使已有作答失效。
func (s *questionService) Plan(ctx context.Context, sessionID string) (*model.QuestionnairePlan, error) {
	plan, err := s.planRepo.Get(ctx, sessionID)
	if err != nil {
		log.Warnf("[QuestionService] 读取量表计划缓存失败, sessionID: %s, error: %v", sessionID, err)
	}
	if plan != nil {
		return plan, nil
	}

	plan, err = s.buildPlan(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.planRepo.Save(ctx, plan); err != nil {
		log.Warnf("[QuestionService] 缓存量表计划失败, sessionID: %s, error: %v", sessionID, err)
	}
	return plan, nil
}

// buildPlan 按当前设置构建题目池：启用类目下的全部题目，
// 题目文本与标度在此刻物化。没有题目的类目被跳过。
func (s *questionService) buildPlan(sessionID string) (*model.QuestionnairePlan, error) {
	categories := s.settings.GetIntList(KeyEnabledCategories)

	entries := make([]model.PlanEntry, 0, len(categories)*3)
	for _, n := range categories {
		questions := s.settings.GetStringList(CategoryQuestionsKey(n))
		if len(questions) == 0 {
			log.Warnf("[QuestionService] 类目 %d 没有配置题目，已跳过", n)
			continue
		}
		name := strings.TrimSpace(s.settings.GetString(CategoryNameKey(n)))
		if name == "" {
			name = fmt.Sprintf("类目 %d", n)
		}
		for i, text := range questions {
			entries = append(entries, model.PlanEntry{
				CategoryNumber: n,
				CategoryName:   name,
				QuestionIndex:  i,
				QuestionText:   text,
			})
		}
	}
	if len(entries) == 0 {
		return nil, ErrEmptyQuestionPool
	}

	randomized := s.settings.GetBool(KeyRandomize)
	if randomized {
		rand.Shuffle(len(entries), func(i, j int) {
			entries[i], entries[j] = entries[j], entries[i]
		})
	}

	scaleMin := s.settings.GetInt(KeyScaleMin)
	scaleMax := s.settings.GetInt(KeyScaleMax)
	if scaleMax <= scaleMin {
		log.Warnf("[QuestionService] 标度配置非法 (min=%d, max=%d)，使用默认 0-3", scaleMin, scaleMax)
		scaleMin, scaleMax = 0, 3
	}
	labels := make(map[int]string, scaleMax-scaleMin+1)
	for v := scaleMin; v <= scaleMax; v++ {
		label := strings.TrimSpace(s.settings.GetString(ScaleLabelKey(v)))
		if label == "" {
			label = fmt.Sprintf("%d", v)
		}
		labels[v] = label
	}

	return &model.QuestionnairePlan{
		SessionID:   sessionID,
		Entries:     entries,
		ScaleMin:    scaleMin,
		ScaleMax:    scaleMax,
		ScaleLabels: labels,
		Randomized:  randomized,
		BuiltAt:     time.Now(),
	}, nil
}

// CurrentQuestion 按计划顺序返回第一道未作答的题目及进度。
func (s *questionService) CurrentQuestion(ctx context.Context, sessionID string) (*QuestionView, error) {
	plan, err := s.Plan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	responses, err := s.responseRepo.FindBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询作答记录失败: %w", err)
	}

	answered := make(map[[2]int]bool, len(responses))
	for _, r := range responses {
		answered[[2]int{r.CategoryNumber, r.QuestionIndex}] = true
	}

	view := &QuestionView{
		Total: plan.Total(),
		Scale: ScaleView{Min: plan.ScaleMin, Max: plan.ScaleMax, Labels: plan.ScaleLabels},
	}
	picked := false
	for i := range plan.Entries {
		entry := &plan.Entries[i]
		if answered[[2]int{entry.CategoryNumber, entry.QuestionIndex}] {
			view.Answered++
			continue
		}
		if !picked {
			picked = true
			view.Position = i + 1
			view.CategoryNumber = entry.CategoryNumber
			view.CategoryName = entry.CategoryName
			view.QuestionIndex = entry.QuestionIndex
			view.QuestionText = entry.QuestionText
		}
	}
	view.Done = !picked
	return view, nil
}

// SaveResponse 校验并保存一道题的作答。
func (s *questionService) SaveResponse(ctx context.Context, sessionID string, req *SubmitResponseRequest) (*AnswerProgress, error) {
	plan, err := s.Plan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entry, ok := plan.Find(req.CategoryNumber, req.QuestionIndex)
	if !ok {
		return nil, ErrQuestionNotInPlan
	}
	if req.ResponseValue < plan.ScaleMin || req.ResponseValue > plan.ScaleMax {
		return nil, ErrResponseOutOfRange
	}

	resp := &model.ScaleResponse{
		SessionID:      sessionID,
		CategoryNumber: entry.CategoryNumber,
		CategoryName:   entry.CategoryName,
		QuestionIndex:  entry.QuestionIndex,
		QuestionText:   entry.QuestionText,
		ResponseValue:  req.ResponseValue,
		ResponseTimeMS: req.ResponseTimeMS,
		RespondedAt:    time.Now(),
	}
	if err := s.responseRepo.Upsert(resp); err != nil {
		return nil, fmt.Errorf("保存作答失败: %w", err)
	}

	count, err := s.responseRepo.CountBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("统计作答进度失败: %w", err)
	}
	return &AnswerProgress{
		Answered: int(count),
		Total:    plan.Total(),
		Done:     int(count) >= plan.Total(),
	}, nil
}

// Score 把会话的全部作答值求和，按固定边界映射严重程度档位。
// 类目均分只随结果展示，不参与档位判定。
func (s *questionService) Score(sessionID string) (*ScoreResult, error) {
	responses, err := s.responseRepo.FindBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询作答记录失败: %w", err)
	}

	result := &ScoreResult{AnswerCount: len(responses)}
	byCategory := make(map[int]*CategoryScore)
	for _, r := range responses {
		result.TotalScore += r.ResponseValue
		cs, ok := byCategory[r.CategoryNumber]
		if !ok {
			cs = &CategoryScore{CategoryNumber: r.CategoryNumber, CategoryName: r.CategoryName}
			byCategory[r.CategoryNumber] = cs
		}
		cs.Sum += r.ResponseValue
		cs.Count++
	}

	result.Categories = make([]CategoryScore, 0, len(byCategory))
	for _, cs := range byCategory {
		if cs.Count > 0 {
			cs.Average = float64(cs.Sum) / float64(cs.Count)
		}
		result.Categories = append(result.Categories, *cs)
	}
	sort.Slice(result.Categories, func(i, j int) bool {
		return result.Categories[i].CategoryNumber < result.Categories[j].CategoryNumber
	})

	result.Severity = severityFor(result.TotalScore)
	return result, nil
}

// Responses 返回会话的全部作答明细。
func (s *questionService) Responses(sessionID string) ([]model.ScaleResponse, error) {
	return s.responseRepo.FindBySession(sessionID)
}

// InvalidatePlan 丢弃缓存的量表计划。
func (s *questionService) InvalidatePlan(ctx context.Context, sessionID string) error {
	return s.planRepo.Delete(ctx, sessionID)
}

// severityFor 把总分映射到严重程度档位。
func severityFor(total int) string {
	switch {
	case total < 5:
		return SeverityMinimal
	case total < 10:
		return SeverityMild
	case total < 15:
		return SeverityModerate
	case total < 20:
		return SeverityModeratelySevere
	default:
		return SeveritySevere
	}
}
