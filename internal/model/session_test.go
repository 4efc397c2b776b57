package model

import (
	"testing"
	"time"
)

func TestModuleOrderDerivations(t *testing.T) {
	qFirst := &AssessmentSession{ModuleOrder: OrderQuestionnaireFirst}
	if qFirst.FirstModule() != ModuleQuestionnaire || qFirst.SecondModule() != ModuleInterview {
		t.Errorf("questionnaire_first: %s / %s", qFirst.FirstModule(), qFirst.SecondModule())
	}
	if qFirst.StageOf(ModuleQuestionnaire) != 1 || qFirst.StageOf(ModuleInterview) != 2 {
		t.Error("questionnaire_first 的阶段映射不对")
	}

	iFirst := &AssessmentSession{ModuleOrder: OrderInterviewFirst}
	if iFirst.FirstModule() != ModuleInterview || iFirst.SecondModule() != ModuleQuestionnaire {
		t.Errorf("interview_first: %s / %s", iFirst.FirstModule(), iFirst.SecondModule())
	}
	if iFirst.StageOf(ModuleInterview) != 1 || iFirst.StageOf(ModuleQuestionnaire) != 2 {
		t.Error("interview_first 的阶段映射不对")
	}
}

func TestDeriveStateFromFlags(t *testing.T) {
	cases := []struct {
		name    string
		session AssessmentSession
		want    SessionState
	}{
		{
			"无任何标志",
			AssessmentSession{ModuleOrder: OrderQuestionnaireFirst},
			StateCreated,
		},
		{
			"仅同意",
			AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, ConsentAgreed: true},
			StateConsented,
		},
		{
			"摄像头已通过",
			AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, ConsentAgreed: true, CameraVerified: true},
			StateCameraVerified,
		},
		{
			"第一环节完成",
			AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, ConsentAgreed: true, CameraVerified: true, QuestionnaireDone: true},
			StateStageOneDone,
		},
		{
			"两个环节都完成",
			AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, ConsentAgreed: true, CameraVerified: true, QuestionnaireDone: true, InterviewDone: true},
			StateCompleted,
		},
		{
			"访谈在先时完成访谈即第一环节完成",
			AssessmentSession{ModuleOrder: OrderInterviewFirst, ConsentAgreed: true, CameraVerified: true, InterviewDone: true},
			StateStageOneDone,
		},
		{
			"访谈在先时只完成量表不推进阶段",
			AssessmentSession{ModuleOrder: OrderInterviewFirst, ConsentAgreed: true, CameraVerified: true, QuestionnaireDone: true},
			StateCameraVerified,
		},
		{
			"放弃状态不被标志覆盖",
			AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, State: StateAbandoned, ConsentAgreed: true, CameraVerified: true},
			StateAbandoned,
		},
	}
	for _, tc := range cases {
		if got := tc.session.DeriveState(); got != tc.want {
			t.Errorf("%s: DeriveState() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestActiveModule(t *testing.T) {
	session := &AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, State: StateStageOneActive}
	if m, ok := session.ActiveModule(); !ok || m != ModuleQuestionnaire {
		t.Errorf("stage1_active: %q %v", m, ok)
	}
	session.State = StateStageTwoActive
	if m, ok := session.ActiveModule(); !ok || m != ModuleInterview {
		t.Errorf("stage2_active: %q %v", m, ok)
	}
	session.State = StateConsented
	if _, ok := session.ActiveModule(); ok {
		t.Error("非激活状态不应报告激活环节")
	}

	iFirst := &AssessmentSession{ModuleOrder: OrderInterviewFirst, State: StateStageOneActive}
	if m, _ := iFirst.ActiveModule(); m != ModuleInterview {
		t.Errorf("interview_first 的 stage1_active 应为 interview, got %q", m)
	}
}

func TestNextStepWalk(t *testing.T) {
	cases := []struct {
		session AssessmentSession
		want    string
	}{
		{AssessmentSession{ModuleOrder: OrderQuestionnaireFirst}, "consent"},
		{AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, ConsentAgreed: true}, "camera"},
		{AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, ConsentAgreed: true, CameraVerified: true}, ModuleQuestionnaire},
		{AssessmentSession{ModuleOrder: OrderInterviewFirst, ConsentAgreed: true, CameraVerified: true}, ModuleInterview},
		{AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, ConsentAgreed: true, CameraVerified: true, QuestionnaireDone: true}, ModuleInterview},
		{AssessmentSession{ModuleOrder: OrderQuestionnaireFirst, QuestionnaireDone: true, InterviewDone: true}, "completed"},
		{AssessmentSession{State: StateAbandoned}, "abandoned"},
	}
	for i, tc := range cases {
		if got := tc.session.NextStep(); got != tc.want {
			t.Errorf("case %d: NextStep() = %q, want %q", i, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for state, want := range map[SessionState]bool{
		StateCreated:        false,
		StateStageTwoActive: false,
		StateCompleted:      true,
		StateAbandoned:      true,
	} {
		s := &AssessmentSession{State: state}
		if s.IsTerminal() != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", state, !want, want)
		}
	}
}

func TestPlanLookup(t *testing.T) {
	plan := &QuestionnairePlan{Entries: []PlanEntry{
		{CategoryNumber: 1, QuestionIndex: 0, QuestionText: "最近是否难以入睡"},
		{CategoryNumber: 1, QuestionIndex: 1, QuestionText: "是否容易早醒"},
		{CategoryNumber: 2, QuestionIndex: 0, QuestionText: "是否对事物失去兴趣"},
	}}
	if plan.Total() != 3 {
		t.Errorf("Total() = %d, want 3", plan.Total())
	}
	entry, ok := plan.Find(1, 1)
	if !ok || entry.QuestionText != "是否容易早醒" {
		t.Errorf("Find(1,1) = %+v, %v", entry, ok)
	}
	if _, ok := plan.Find(3, 0); ok {
		t.Error("Find(3,0) 不应命中")
	}
}

func TestInterviewContextExchanges(t *testing.T) {
	ic := &InterviewContext{MaxExchanges: 2}
	if !ic.CanContinue() || ic.RemainingExchanges() != 2 {
		t.Fatalf("初始: CanContinue=%v Remaining=%d", ic.CanContinue(), ic.RemainingExchanges())
	}

	askedAt := time.Now()
	ic.AppendExchange("最近睡眠怎么样", "谢谢你告诉我这些", askedAt, askedAt.Add(2*time.Second))
	if ic.ExchangeCount != 1 || len(ic.Messages) != 2 {
		t.Fatalf("一轮后: count=%d messages=%d", ic.ExchangeCount, len(ic.Messages))
	}
	if ic.Messages[0].Role != "user" || ic.Messages[1].Role != "assistant" {
		t.Errorf("消息角色 = %s/%s", ic.Messages[0].Role, ic.Messages[1].Role)
	}
	if ic.RemainingExchanges() != 1 {
		t.Errorf("Remaining = %d, want 1", ic.RemainingExchanges())
	}

	ic.AppendExchange("后来呢", "慢慢来，不着急", askedAt, askedAt)
	if ic.CanContinue() {
		t.Error("达到上限后 CanContinue 应为 false")
	}
	if ic.RemainingExchanges() != 0 {
		t.Errorf("Remaining = %d, want 0", ic.RemainingExchanges())
	}

	// 上限被管理员调小后剩余轮次不为负
	ic.MaxExchanges = 1
	if ic.RemainingExchanges() != 0 {
		t.Errorf("超限后 Remaining = %d, want 0", ic.RemainingExchanges())
	}
}
