package service

import (
	"math/rand"

	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/pkg/log"
)

// 模块顺序配比的死区边界：份额落在 [0.45, 0.55] 内视为均衡，随机分配。
const (
	orderShareUpper = 0.55
	orderShareLower = 0.45
)

// OrderStatistics 描述当前模块顺序的分配情况。
type OrderStatistics struct {
	QuestionnaireFirst int64   `json:"questionnaire_first"`
	InterviewFirst     int64   `json:"interview_first"`
	Total              int64   `json:"total"`
	QuestionnaireShare float64 `json:"questionnaire_share"`
	Balance            string  `json:"balance"`
}

// BalanceService 接口定义模块顺序的配比分配操作。
type BalanceService interface {
	// NextOrder 为新会话决定模块顺序，保证两种顺序的份额围绕各半波动。
	NextOrder() string
	// Statistics 返回两种顺序的累计分配统计。
	Statistics() (*OrderStatistics, error)
}

// balanceService 是 BalanceService 接口的实现。
type balanceService struct {
	sessionRepo repository.SessionRepository
}

// NewBalanceService 创建一个新的 BalanceService 实例。
func NewBalanceService(sessionRepo repository.SessionRepository) BalanceService {
	return &balanceService{sessionRepo: sessionRepo}
}

// NextOrder 统计历史分配后按死区规则决定顺序。
// 统计失败不阻塞建会话，降级为随机分配。
func (s *balanceService) NextOrder() string {
	counts, err := s.sessionRepo.CountByOrder()
	if err != nil {
		log.Warnf("[BalanceService] 统计模块顺序失败，降级为随机分配: %v", err)
		return randomOrder()
	}

	questionnaireFirst := counts[model.OrderQuestionnaireFirst]
	interviewFirst := counts[model.OrderInterviewFirst]
	total := questionnaireFirst + interviewFirst
	if total == 0 {
		return randomOrder()
	}

	share := float64(questionnaireFirst) / float64(total)
	switch {
	case share > orderShareUpper:
		return model.OrderInterviewFirst
	case share < orderShareLower:
		return model.OrderQuestionnaireFirst
	default:
		return randomOrder()
	}
}

// Statistics 返回累计分配统计与均衡判定。
func (s *balanceService) Statistics() (*OrderStatistics, error) {
	counts, err := s.sessionRepo.CountByOrder()
	if err != nil {
		return nil, err
	}

	stats := &OrderStatistics{
		QuestionnaireFirst: counts[model.OrderQuestionnaireFirst],
		InterviewFirst:     counts[model.OrderInterviewFirst],
	}
	stats.Total = stats.QuestionnaireFirst + stats.InterviewFirst
	if stats.Total == 0 {
		stats.Balance = "balanced"
		return stats, nil
	}

	stats.QuestionnaireShare = float64(stats.QuestionnaireFirst) / float64(stats.Total)
	switch {
	case stats.QuestionnaireShare > orderShareUpper:
		stats.Balance = "questionnaire_heavy"
	case stats.QuestionnaireShare < orderShareLower:
		stats.Balance = "interview_heavy"
	default:
		stats.Balance = "balanced"
	}
	return stats, nil
}

func randomOrder() string {
	if rand.Intn(2) == 0 {
		return model.OrderQuestionnaireFirst
	}
	return model.OrderInterviewFirst
}
