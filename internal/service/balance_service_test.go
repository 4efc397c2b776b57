package service

import (
	"errors"
	"testing"

	"mindcare-go/internal/model"
)

func isKnownOrder(order string) bool {
	return order == model.OrderQuestionnaireFirst || order == model.OrderInterviewFirst
}

func TestNextOrderCorrectsImbalance(t *testing.T) {
	cases := []struct {
		name               string
		questionnaireFirst int64
		interviewFirst     int64
		want               string
	}{
		{"量表占比过高", 56, 44, model.OrderInterviewFirst},
		{"访谈占比过高", 44, 56, model.OrderQuestionnaireFirst},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeSessionRepo{countsByOrder: map[string]int64{
				model.OrderQuestionnaireFirst: tc.questionnaireFirst,
				model.OrderInterviewFirst:     tc.interviewFirst,
			}}
			balance := NewBalanceService(repo)
			if got := balance.NextOrder(); got != tc.want {
				t.Errorf("NextOrder() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNextOrderRandomInsideDeadband(t *testing.T) {
	// 份额恰好落在边界上时仍属死区，不做强制纠偏
	cases := []struct {
		name               string
		questionnaireFirst int64
		interviewFirst     int64
	}{
		{"恰好均衡", 50, 50},
		{"上边界", 55, 45},
		{"下边界", 45, 55},
		{"没有历史分配", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeSessionRepo{countsByOrder: map[string]int64{
				model.OrderQuestionnaireFirst: tc.questionnaireFirst,
				model.OrderInterviewFirst:     tc.interviewFirst,
			}}
			balance := NewBalanceService(repo)
			if got := balance.NextOrder(); !isKnownOrder(got) {
				t.Errorf("NextOrder() = %q, 不是有效的模块顺序", got)
			}
		})
	}
}

func TestNextOrderDegradesToRandomOnRepoError(t *testing.T) {
	repo := &fakeSessionRepo{countByOrderErr: errors.New("db gone")}
	balance := NewBalanceService(repo)
	if got := balance.NextOrder(); !isKnownOrder(got) {
		t.Errorf("NextOrder() = %q, 统计失败时应降级为随机分配", got)
	}
}

func TestOrderStatisticsLabels(t *testing.T) {
	cases := []struct {
		name               string
		questionnaireFirst int64
		interviewFirst     int64
		wantBalance        string
		wantShare          float64
	}{
		{"量表偏多", 60, 40, "questionnaire_heavy", 0.6},
		{"访谈偏多", 40, 60, "interview_heavy", 0.4},
		{"均衡", 50, 50, "balanced", 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeSessionRepo{countsByOrder: map[string]int64{
				model.OrderQuestionnaireFirst: tc.questionnaireFirst,
				model.OrderInterviewFirst:     tc.interviewFirst,
			}}
			balance := NewBalanceService(repo)
			stats, err := balance.Statistics()
			if err != nil {
				t.Fatalf("Statistics: %v", err)
			}
			if stats.Balance != tc.wantBalance {
				t.Errorf("Balance = %q, want %q", stats.Balance, tc.wantBalance)
			}
			if stats.QuestionnaireShare != tc.wantShare {
				t.Errorf("QuestionnaireShare = %v, want %v", stats.QuestionnaireShare, tc.wantShare)
			}
			if stats.Total != tc.questionnaireFirst+tc.interviewFirst {
				t.Errorf("Total = %d, want %d", stats.Total, tc.questionnaireFirst+tc.interviewFirst)
			}
		})
	}
}

func TestOrderStatisticsEmptyHistory(t *testing.T) {
	repo := &fakeSessionRepo{countsByOrder: map[string]int64{}}
	balance := NewBalanceService(repo)
	stats, err := balance.Statistics()
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Balance != "balanced" || stats.Total != 0 || stats.QuestionnaireShare != 0 {
		t.Errorf("空历史的统计 = %+v", stats)
	}
}

func TestOrderStatisticsPropagatesRepoError(t *testing.T) {
	repo := &fakeSessionRepo{countByOrderErr: errors.New("db gone")}
	balance := NewBalanceService(repo)
	if _, err := balance.Statistics(); err == nil {
		t.Error("Statistics 应透传仓库错误")
	}
}
