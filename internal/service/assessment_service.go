// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/pkg/kafka"
	"mindcare-go/pkg/log"
	"mindcare-go/pkg/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionView 是会话的对外视图。
type SessionView struct {
	SessionID         string             `json:"sessionId"`
	ModuleOrder       string             `json:"moduleOrder"`
	State             model.SessionState `json:"state"`
	NextStep          string             `json:"nextStep"`
	FirstModule       string             `json:"firstModule"`
	SecondModule      string             `json:"secondModule"`
	ConsentAgreed     bool               `json:"consentAgreed"`
	CameraVerified    bool               `json:"cameraVerified"`
	QuestionnaireDone bool               `json:"questionnaireDone"`
	InterviewDone     bool               `json:"interviewDone"`
	TotalScore        *int               `json:"totalScore,omitempty"`
	Severity          string             `json:"severity,omitempty"`
	StartedAt         time.Time          `json:"startedAt"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
}

// StageView 是激活一个环节后返回的视图，按环节类型携带首题或访谈引导。
type StageView struct {
	Session  *SessionView    `json:"session"`
	Module   string          `json:"module"`
	Stage    int             `json:"stage"`
	Question *QuestionView   `json:"question,omitempty"`
	Intro    *InterviewIntro `json:"intro,omitempty"`
	Capture  *CaptureConfig  `json:"capture"`
}

// MediaStats 是会话媒体的数量统计。
type MediaStats struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"byType"`
}

// SessionSummary 是评估结束后的汇总视图。
type SessionSummary struct {
	Session    *SessionView          `json:"session"`
	Score      *ScoreResult          `json:"score,omitempty"`
	Transcript *TranscriptView       `json:"transcript,omitempty"`
	Media      *MediaStats           `json:"media"`
	Analysis   *model.AnalysisResult `json:"analysis,omitempty"`
}

// AssessmentService 是评估会话的编排层：它持有状态机，
// 各环节服务只在它放行之后工作。
type AssessmentService interface {
	// Start 为用户创建新会话。已有未完成的会话会被放弃并清理媒体文件。
	Start(ctx context.Context, userID uint) (*SessionView, error)
	// Current 返回用户当前未完成的会话，状态按持久化标志重新推导。
	Current(userID uint) (*SessionView, error)
	// SubmitConsent 记录知情同意结果，拒绝时返回 ErrConsentRequired 且会话状态不变。
	SubmitConsent(ctx context.Context, userID uint, sessionID string, agreed bool) (*SessionView, error)
	// VerifyCamera 记录摄像头检查通过。
	VerifyCamera(userID uint, sessionID string) (*SessionView, error)
	// ActivateStage 激活指定环节，返回该环节的开场内容。
	ActivateStage(ctx context.Context, userID uint, sessionID, module string) (*StageView, error)
	// CompleteModule 结束指定环节：量表在此刻计分，访谈在此刻落库。
	CompleteModule(ctx context.Context, userID uint, sessionID, module string) (*SessionView, error)
	// Abandon 放弃会话并删除已采集的媒体文件，数据库记录保留。
	Abandon(ctx context.Context, userID uint, sessionID string) (*SessionView, error)
	// Summary 返回受测者可见的评估汇总。
	Summary(ctx context.Context, userID uint, sessionID string) (*SessionSummary, error)
	// AdminSummary 返回含后台分析结果的完整汇总。
	AdminSummary(ctx context.Context, sessionID string) (*SessionSummary, error)
	// RequireActiveModule 校验会话归属且指定环节处于激活状态。
	RequireActiveModule(userID uint, sessionID, module string) (*model.AssessmentSession, error)
	// RequireOwned 校验会话归属。
	RequireOwned(userID uint, sessionID string) (*model.AssessmentSession, error)
	// DispatchAnalysis 投递一条后台分析任务。
	DispatchAnalysis(sessionID, trigger, requestedBy string) error
	// Erase 彻底删除会话：先删存储对象，再级联删除全部数据库记录。
	Erase(ctx context.Context, sessionID string) error
}

// assessmentService 是 AssessmentService 接口的实现。
type assessmentService struct {
	sessionRepo  repository.SessionRepository
	analysisRepo repository.AnalysisRepository
	balance      BalanceService
	questions    QuestionService
	interviews   InterviewService
	media        MediaService
	settings     SettingsService
}

// NewAssessmentService 创建一个新的 AssessmentService 实例。
func NewAssessmentService(
	sessionRepo repository.SessionRepository,
	analysisRepo repository.AnalysisRepository,
	balance BalanceService,
	questions QuestionService,
	interviews InterviewService,
	media MediaService,
	settings SettingsService,
) AssessmentService {
	return &assessmentService{
		sessionRepo:  sessionRepo,
		analysisRepo: analysisRepo,
		balance:      balance,
		questions:    questions,
		interviews:   interviews,
		media:        media,
		settings:     settings,
	}
}

// Start 创建新会话。同一用户最多一个进行中的会话：
// 残留的旧会话被隐式放弃，媒体文件清理、数据库记录保留。
func (s *assessmentService) Start(ctx context.Context, userID uint) (*SessionView, error) {
	existing, err := s.sessionRepo.FindActiveByUserID(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询进行中会话失败: %w", err)
	}
	if existing != nil {
		log.Infof("[AssessmentService] 用户 %d 有未完成会话 %s，隐式放弃", userID, existing.SessionID)
		if err := s.abandonSession(ctx, existing); err != nil {
			return nil, err
		}
	}

	session := &model.AssessmentSession{
		SessionID:   uuid.New().String(),
		UserID:      userID,
		ModuleOrder: s.balance.NextOrder(),
		State:       model.StateCreated,
		StartedAt:   time.Now(),
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}

	log.Infof("[AssessmentService] 会话已创建, sessionID: %s, userID: %d, order: %s",
		session.SessionID, userID, session.ModuleOrder)
	return sessionView(session), nil
}

// Current 返回用户当前未完成的会话。存储的状态快照与持久化标志
// 不一致时以标志推导结果为准并回写（激活中的环节状态除外）。
func (s *assessmentService) Current(userID uint) (*SessionView, error) {
	session, err := s.sessionRepo.FindActiveByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	if err := s.healState(session); err != nil {
		return nil, err
	}
	return sessionView(session), nil
}

// healState 把状态快照与完成标志对齐。
// stageN_active 无法从标志推导，只要它是推导状态的合法激活就保留。
func (s *assessmentService) healState(session *model.AssessmentSession) error {
	derived := session.DeriveState()
	stored := session.State

	switch stored {
	case model.StateStageOneActive:
		if derived == model.StateCameraVerified {
			return nil
		}
	case model.StateStageTwoActive:
		if derived == model.StateStageOneDone {
			return nil
		}
	default:
		if stored == derived {
			return nil
		}
	}

	log.Warnf("[AssessmentService] 会话 %s 状态不一致 (stored=%s, derived=%s)，已修正",
		session.SessionID, stored, derived)
	session.State = derived
	if derived == model.StateCompleted && session.CompletedAt == nil {
		now := time.Now()
		session.CompletedAt = &now
	}
	if err := s.sessionRepo.Update(session); err != nil {
		return fmt.Errorf("修正会话状态失败: %w", err)
	}
	return nil
}

// RequireOwned 按 (用户, 会话) 查找会话，归属不符时与不存在同样处理。
func (s *assessmentService) RequireOwned(userID uint, sessionID string) (*model.AssessmentSession, error) {
	session, err := s.sessionRepo.FindBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// RequireActiveModule 校验归属且指定环节正处于激活阶段。
func (s *assessmentService) RequireActiveModule(userID uint, sessionID, module string) (*model.AssessmentSession, error) {
	session, err := s.RequireOwned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	active, ok := session.ActiveModule()
	if !ok || active != module {
		return nil, &InvalidTransitionError{From: session.State, Op: module}
	}
	return session, nil
}

// SubmitConsent 记录知情同意结果。拒绝同意不改变任何状态，
// 会话停留在 created，受测者可以反悔后重新同意或主动放弃。
// 已同意过的会话重复提交是幂等的。
func (s *assessmentService) SubmitConsent(ctx context.Context, userID uint, sessionID string, agreed bool) (*SessionView, error) {
	session, err := s.RequireOwned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, ErrSessionImmutable
	}

	if !agreed {
		log.Infof("[AssessmentService] 用户 %d 拒绝知情同意, sessionID: %s", userID, sessionID)
		return nil, ErrConsentRequired
	}

	if session.ConsentAgreed {
		return sessionView(session), nil
	}
	if session.State != model.StateCreated {
		return nil, &InvalidTransitionError{From: session.State, Op: "consent"}
	}
	now := time.Now()
	session.ConsentAgreed = true
	session.ConsentAt = &now
	session.State = model.StateConsented
	if err := s.sessionRepo.Update(session); err != nil {
		return nil, fmt.Errorf("保存知情同意失败: %w", err)
	}
	return sessionView(session), nil
}

// VerifyCamera 记录摄像头检查通过。前置条件：已同意知情同意书。
func (s *assessmentService) VerifyCamera(userID uint, sessionID string) (*SessionView, error) {
	session, err := s.RequireOwned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, ErrSessionImmutable
	}
	if !session.ConsentAgreed {
		return nil, ErrConsentRequired
	}

	if session.CameraVerified {
		return sessionView(session), nil
	}
	now := time.Now()
	session.CameraVerified = true
	session.CameraVerifiedAt = &now
	session.State = model.StateCameraVerified
	if err := s.sessionRepo.Update(session); err != nil {
		return nil, fmt.Errorf("保存摄像头检查结果失败: %w", err)
	}
	return sessionView(session), nil
}

// ActivateStage 激活指定环节。环节的开场内容（首题 / 访谈引导）
// 先准备好，状态才持久化：准备失败的激活不留任何痕迹。
func (s *assessmentService) ActivateStage(ctx context.Context, userID uint, sessionID, module string) (*StageView, error) {
	session, err := s.RequireOwned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, ErrSessionImmutable
	}
	if module != model.ModuleQuestionnaire && module != model.ModuleInterview {
		return nil, fmt.Errorf("未知的评估环节: %s", module)
	}
	if session.ModuleDone(module) {
		return nil, &InvalidTransitionError{From: session.State, Op: "activate_" + module}
	}

	stage := session.StageOf(module)
	if !session.ConsentAgreed {
		return nil, ErrConsentRequired
	}
	if stage == 1 && !session.CameraVerified {
		return nil, &InvalidTransitionError{From: session.State, Op: "activate_" + module}
	}
	if stage == 2 && !session.ModuleDone(session.FirstModule()) {
		return nil, &InvalidTransitionError{From: session.State, Op: "activate_" + module}
	}

	view := &StageView{Module: module, Stage: stage, Capture: s.media.CaptureConfig()}
	switch module {
	case model.ModuleQuestionnaire:
		question, err := s.questions.CurrentQuestion(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		view.Question = question
	case model.ModuleInterview:
		intro, err := s.interviews.Begin(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		view.Intro = intro
	}

	if stage == 1 {
		session.State = model.StateStageOneActive
	} else {
		session.State = model.StateStageTwoActive
	}
	if err := s.sessionRepo.Update(session); err != nil {
		return nil, fmt.Errorf("激活环节失败: %w", err)
	}
	log.Infof("[AssessmentService] 环节已激活, sessionID: %s, module: %s, stage: %d", sessionID, module, stage)

	view.Session = sessionView(session)
	return view, nil
}

// CompleteModule 结束指定环节并推进状态机。
// 量表的总分与严重程度在此刻固化到会话上；访谈记录在此刻落库。
func (s *assessmentService) CompleteModule(ctx context.Context, userID uint, sessionID, module string) (*SessionView, error) {
	session, err := s.RequireOwned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, ErrSessionImmutable
	}
	if session.ModuleDone(module) {
		return sessionView(session), nil
	}
	active, ok := session.ActiveModule()
	if !ok || active != module {
		return nil, &InvalidTransitionError{From: session.State, Op: "complete_" + module}
	}

	now := time.Now()
	switch module {
	case model.ModuleQuestionnaire:
		score, err := s.questions.Score(sessionID)
		if err != nil {
			return nil, err
		}
		session.QuestionnaireDone = true
		session.QuestionnaireDoneAt = &now
		session.TotalScore = &score.TotalScore
		session.Severity = score.Severity
		log.Infof("[AssessmentService] 量表环节完成, sessionID: %s, total: %d, severity: %s",
			sessionID, score.TotalScore, score.Severity)
	case model.ModuleInterview:
		if err := s.interviews.Finalize(ctx, sessionID); err != nil {
			return nil, err
		}
		session.InterviewDone = true
		session.InterviewDoneAt = &now
		log.Infof("[AssessmentService] 访谈环节完成, sessionID: %s", sessionID)
	default:
		return nil, fmt.Errorf("未知的评估环节: %s", module)
	}

	if session.QuestionnaireDone && session.InterviewDone {
		session.State = model.StateCompleted
		session.CompletedAt = &now
	} else {
		session.State = model.StateStageOneDone
	}
	if err := s.sessionRepo.Update(session); err != nil {
		return nil, fmt.Errorf("保存环节完成状态失败: %w", err)
	}

	if session.State == model.StateCompleted && s.settings.GetBool(KeyAnalysisAuto) {
		// 分析任务投递失败不影响评估完成
		if err := s.DispatchAnalysis(sessionID, tasks.TriggerAuto, ""); err != nil {
			log.Errorf("[AssessmentService] 自动分析任务投递失败, sessionID: %s, error: %v", sessionID, err)
		}
	}
	return sessionView(session), nil
}

// Abandon 放弃会话。已完成的会话不可放弃；重复放弃是幂等的。
func (s *assessmentService) Abandon(ctx context.Context, userID uint, sessionID string) (*SessionView, error) {
	session, err := s.RequireOwned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State == model.StateCompleted {
		return nil, ErrSessionImmutable
	}
	if session.State == model.StateAbandoned {
		return sessionView(session), nil
	}
	if err := s.abandonSession(ctx, session); err != nil {
		return nil, err
	}
	return sessionView(session), nil
}

// abandonSession 把会话标记为放弃并清理挥发状态与媒体文件。
// 数据库里的作答、轮次、媒体记录保留为审计痕迹。
func (s *assessmentService) abandonSession(ctx context.Context, session *model.AssessmentSession) error {
	session.State = model.StateAbandoned
	if err := s.sessionRepo.Update(session); err != nil {
		return fmt.Errorf("放弃会话失败: %w", err)
	}

	if err := s.interviews.DiscardLiveState(ctx, session.SessionID); err != nil {
		log.Warnf("[AssessmentService] 清理访谈上下文失败, sessionID: %s, error: %v", session.SessionID, err)
	}
	if err := s.questions.InvalidatePlan(ctx, session.SessionID); err != nil {
		log.Warnf("[AssessmentService] 清理量表计划失败, sessionID: %s, error: %v", session.SessionID, err)
	}
	if _, err := s.media.RemoveObjects(ctx, session.SessionID); err != nil {
		log.Warnf("[AssessmentService] 清理媒体文件失败, sessionID: %s, error: %v", session.SessionID, err)
	}
	log.Infof("[AssessmentService] 会话已放弃, sessionID: %s", session.SessionID)
	return nil
}

// Summary 返回受测者可见的评估汇总（不含后台分析结果）。
func (s *assessmentService) Summary(ctx context.Context, userID uint, sessionID string) (*SessionSummary, error) {
	session, err := s.RequireOwned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.buildSummary(ctx, session, false)
}

// AdminSummary 返回完整汇总，含最近一次后台分析结果。
func (s *assessmentService) AdminSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	session, err := s.sessionRepo.FindBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return s.buildSummary(ctx, session, true)
}

func (s *assessmentService) buildSummary(ctx context.Context, session *model.AssessmentSession, includeAnalysis bool) (*SessionSummary, error) {
	summary := &SessionSummary{Session: sessionView(session)}

	if session.QuestionnaireDone {
		score, err := s.questions.Score(session.SessionID)
		if err != nil {
			return nil, err
		}
		summary.Score = score
	}
	if session.InterviewDone {
		transcript, err := s.interviews.Transcript(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		summary.Transcript = transcript
	}

	counts, err := s.media.Counts(session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("统计媒体数量失败: %w", err)
	}
	stats := &MediaStats{ByType: counts}
	for _, n := range counts {
		stats.Total += n
	}
	summary.Media = stats

	if includeAnalysis {
		analysis, err := s.analysisRepo.FindLatestBySession(session.SessionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("查询分析结果失败: %w", err)
		}
		summary.Analysis = analysis
	}
	return summary, nil
}

// DispatchAnalysis 投递一条后台分析任务到消息队列。
func (s *assessmentService) DispatchAnalysis(sessionID, trigger, requestedBy string) error {
	task := tasks.AnalysisTask{
		SessionID:   sessionID,
		Trigger:     trigger,
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
	}
	if err := kafka.ProduceAnalysisTask(task); err != nil {
		return fmt.Errorf("投递分析任务失败: %w", err)
	}
	log.Infof("[AssessmentService] 分析任务已投递, sessionID: %s, trigger: %s", sessionID, trigger)
	return nil
}

// Erase 彻底删除会话的全部数据：先删存储对象（此时还能从记录里
// 找到对象路径），再级联删除数据库记录，最后清理 Redis 状态。
func (s *assessmentService) Erase(ctx context.Context, sessionID string) error {
	session, err := s.sessionRepo.FindBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("查询会话失败: %w", err)
	}

	if _, err := s.media.RemoveObjects(ctx, sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteCascade(sessionID); err != nil {
		return fmt.Errorf("删除会话数据失败: %w", err)
	}
	if err := s.interviews.DiscardLiveState(ctx, sessionID); err != nil {
		log.Warnf("[AssessmentService] 清理访谈上下文失败, sessionID: %s, error: %v", sessionID, err)
	}
	if err := s.questions.InvalidatePlan(ctx, sessionID); err != nil {
		log.Warnf("[AssessmentService] 清理量表计划失败, sessionID: %s, error: %v", sessionID, err)
	}

	log.Infof("[AssessmentService] 会话已彻底删除, sessionID: %s, userID: %d", sessionID, session.UserID)
	return nil
}

// sessionView 把会话模型投影为对外视图。
func sessionView(session *model.AssessmentSession) *SessionView {
	return &SessionView{
		SessionID:         session.SessionID,
		ModuleOrder:       session.ModuleOrder,
		State:             session.State,
		NextStep:          session.NextStep(),
		FirstModule:       session.FirstModule(),
		SecondModule:      session.SecondModule(),
		ConsentAgreed:     session.ConsentAgreed,
		CameraVerified:    session.CameraVerified,
		QuestionnaireDone: session.QuestionnaireDone,
		InterviewDone:     session.InterviewDone,
		TotalScore:        session.TotalScore,
		Severity:          session.Severity,
		StartedAt:         session.StartedAt,
		CompletedAt:       session.CompletedAt,
	}
}
