package service

import (
	"context"
	"errors"
	"testing"

	"mindcare-go/internal/model"
)

type fakePlanRepo struct {
	plans   map[string]*model.QuestionnairePlan
	getErr  error
	saveErr error
	saves   int
	deleted []string
}

func (r *fakePlanRepo) Get(ctx context.Context, sessionID string) (*model.QuestionnairePlan, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.plans[sessionID], nil
}

func (r *fakePlanRepo) Save(ctx context.Context, plan *model.QuestionnairePlan) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if r.plans == nil {
		r.plans = map[string]*model.QuestionnairePlan{}
	}
	r.plans[plan.SessionID] = plan
	r.saves++
	return nil
}

func (r *fakePlanRepo) Delete(ctx context.Context, sessionID string) error {
	delete(r.plans, sessionID)
	r.deleted = append(r.deleted, sessionID)
	return nil
}

// fakeResponseRepo 按 (会话, 类目, 序号) 唯一键模拟 Upsert 覆盖语义。
type fakeResponseRepo struct {
	rows      []model.ScaleResponse
	upsertErr error
	findErr   error
}

func (r *fakeResponseRepo) Upsert(resp *model.ScaleResponse) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	for i := range r.rows {
		if r.rows[i].SessionID == resp.SessionID &&
			r.rows[i].CategoryNumber == resp.CategoryNumber &&
			r.rows[i].QuestionIndex == resp.QuestionIndex {
			r.rows[i] = *resp
			return nil
		}
	}
	r.rows = append(r.rows, *resp)
	return nil
}

func (r *fakeResponseRepo) FindBySession(sessionID string) ([]model.ScaleResponse, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	out := make([]model.ScaleResponse, 0, len(r.rows))
	for _, row := range r.rows {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeResponseRepo) CountBySession(sessionID string) (int64, error) {
	rows, err := r.FindBySession(sessionID)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// 两个类目共三道题的最小题库。
func questionPoolSettings() map[string]string {
	return map[string]string{
		KeyEnabledCategories:    "[1,2]",
		CategoryNameKey(1):      "兴趣减退",
		CategoryQuestionsKey(1): `["做事时提不起劲或没有兴趣", "对以往的爱好失去兴趣"]`,
		CategoryNameKey(2):      "情绪低落",
		CategoryQuestionsKey(2): `["感到心情低落、沮丧或绝望"]`,
		ScaleLabelKey(0):        "完全没有",
	}
}

func newTestQuestionService(values map[string]string) (QuestionService, *fakePlanRepo, *fakeResponseRepo) {
	settings, _ := newTestSettings(values)
	planRepo := &fakePlanRepo{}
	responseRepo := &fakeResponseRepo{}
	return NewQuestionService(planRepo, responseRepo, settings), planRepo, responseRepo
}

func TestPlanMaterializesEnabledCategories(t *testing.T) {
	questions, planRepo, _ := newTestQuestionService(questionPoolSettings())

	plan, err := questions.Plan(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Total() != 3 {
		t.Fatalf("题目总数 = %d, want 3", plan.Total())
	}
	// 未开启乱序时严格按类目与序号排列
	want := []struct {
		cat, idx int
		text     string
	}{
		{1, 0, "做事时提不起劲或没有兴趣"},
		{1, 1, "对以往的爱好失去兴趣"},
		{2, 0, "感到心情低落、沮丧或绝望"},
	}
	for i, w := range want {
		e := plan.Entries[i]
		if e.CategoryNumber != w.cat || e.QuestionIndex != w.idx || e.QuestionText != w.text {
			t.Errorf("Entries[%d] = %+v, want %+v", i, e, w)
		}
	}
	if plan.Entries[0].CategoryName != "兴趣减退" {
		t.Errorf("类目名称 = %q", plan.Entries[0].CategoryName)
	}
	if plan.ScaleMin != 0 || plan.ScaleMax != 3 {
		t.Errorf("标度 = [%d, %d], want [0, 3]", plan.ScaleMin, plan.ScaleMax)
	}
	// 配置了标签的标度值用标签，未配置的回落为数字
	if plan.ScaleLabels[0] != "完全没有" || plan.ScaleLabels[3] != "3" {
		t.Errorf("标度标签 = %v", plan.ScaleLabels)
	}

	// 计划已缓存，重复调用不再重建
	if _, err := questions.Plan(context.Background(), "s1"); err != nil {
		t.Fatalf("Plan(重复): %v", err)
	}
	if planRepo.saves != 1 {
		t.Errorf("计划构建次数 = %d, want 1", planRepo.saves)
	}
}

func TestPlanSkipsCategoriesWithoutQuestions(t *testing.T) {
	values := map[string]string{
		KeyEnabledCategories:    "[1,2,3]",
		CategoryQuestionsKey(1): `["q1"]`,
		CategoryNameKey(1):      "类目一",
		CategoryQuestionsKey(3): `["q3"]`,
	}
	questions, _, _ := newTestQuestionService(values)

	plan, err := questions.Plan(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Total() != 2 {
		t.Fatalf("题目总数 = %d, want 2（类目 2 无题目应被跳过）", plan.Total())
	}
	// 未配置名称的类目得到自动名称
	if plan.Entries[1].CategoryName != "类目 3" {
		t.Errorf("自动类目名 = %q, want \"类目 3\"", plan.Entries[1].CategoryName)
	}
}

func TestPlanRejectsEmptyPool(t *testing.T) {
	questions, _, _ := newTestQuestionService(map[string]string{
		KeyEnabledCategories: "[7]",
	})
	_, err := questions.Plan(context.Background(), "s1")
	if !errors.Is(err, ErrEmptyQuestionPool) {
		t.Errorf("空题库应返回 ErrEmptyQuestionPool, got %v", err)
	}
}

func TestPlanInvalidScaleRangeFallsBack(t *testing.T) {
	values := questionPoolSettings()
	values[KeyScaleMin] = "2"
	values[KeyScaleMax] = "2"
	questions, _, _ := newTestQuestionService(values)

	plan, err := questions.Plan(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.ScaleMin != 0 || plan.ScaleMax != 3 {
		t.Errorf("非法标度应回落为 [0, 3], got [%d, %d]", plan.ScaleMin, plan.ScaleMax)
	}
}

func TestPlanShuffleKeepsAllEntries(t *testing.T) {
	values := questionPoolSettings()
	values[KeyRandomize] = "true"
	questions, _, _ := newTestQuestionService(values)

	plan, err := questions.Plan(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.Randomized {
		t.Error("Randomized = false, want true")
	}
	seen := map[[2]int]bool{}
	for _, e := range plan.Entries {
		seen[[2]int{e.CategoryNumber, e.QuestionIndex}] = true
	}
	for _, key := range [][2]int{{1, 0}, {1, 1}, {2, 0}} {
		if !seen[key] {
			t.Errorf("乱序后缺少题目 %v", key)
		}
	}
}

func TestPlanRebuildsOnCacheReadError(t *testing.T) {
	questions, planRepo, _ := newTestQuestionService(questionPoolSettings())
	planRepo.getErr = errors.New("redis timeout")

	plan, err := questions.Plan(context.Background(), "s1")
	if err != nil {
		t.Fatalf("缓存读取失败时 Plan 应重建: %v", err)
	}
	if plan.Total() != 3 {
		t.Errorf("重建的计划题数 = %d, want 3", plan.Total())
	}
}

func TestCurrentQuestionWalksPlanInOrder(t *testing.T) {
	questions, _, _ := newTestQuestionService(questionPoolSettings())
	ctx := context.Background()

	view, err := questions.CurrentQuestion(ctx, "s1")
	if err != nil {
		t.Fatalf("CurrentQuestion: %v", err)
	}
	if view.Done || view.Position != 1 || view.CategoryNumber != 1 || view.QuestionIndex != 0 {
		t.Errorf("首题 = %+v", view)
	}
	if view.Total != 3 || view.Answered != 0 {
		t.Errorf("进度 = %d/%d, want 0/3", view.Answered, view.Total)
	}
	if view.Scale.Max != 3 {
		t.Errorf("Scale.Max = %d, want 3", view.Scale.Max)
	}

	// 答掉第一题后指向第二题
	if _, err := questions.SaveResponse(ctx, "s1", &SubmitResponseRequest{CategoryNumber: 1, QuestionIndex: 0, ResponseValue: 2}); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	view, err = questions.CurrentQuestion(ctx, "s1")
	if err != nil {
		t.Fatalf("CurrentQuestion: %v", err)
	}
	if view.Position != 2 || view.CategoryNumber != 1 || view.QuestionIndex != 1 || view.Answered != 1 {
		t.Errorf("第二题 = %+v", view)
	}
}

func TestCurrentQuestionDoneAfterAllAnswered(t *testing.T) {
	questions, _, _ := newTestQuestionService(questionPoolSettings())
	ctx := context.Background()

	for _, q := range []SubmitResponseRequest{
		{CategoryNumber: 1, QuestionIndex: 0, ResponseValue: 1},
		{CategoryNumber: 1, QuestionIndex: 1, ResponseValue: 0},
		{CategoryNumber: 2, QuestionIndex: 0, ResponseValue: 3},
	} {
		req := q
		if _, err := questions.SaveResponse(ctx, "s1", &req); err != nil {
			t.Fatalf("SaveResponse(%+v): %v", q, err)
		}
	}

	view, err := questions.CurrentQuestion(ctx, "s1")
	if err != nil {
		t.Fatalf("CurrentQuestion: %v", err)
	}
	if !view.Done || view.Answered != 3 {
		t.Errorf("答完后 = %+v, want Done", view)
	}
}

func TestSaveResponseRejectsUnknownQuestion(t *testing.T) {
	questions, _, _ := newTestQuestionService(questionPoolSettings())
	_, err := questions.SaveResponse(context.Background(), "s1",
		&SubmitResponseRequest{CategoryNumber: 9, QuestionIndex: 0, ResponseValue: 1})
	if !errors.Is(err, ErrQuestionNotInPlan) {
		t.Errorf("计划外题目应返回 ErrQuestionNotInPlan, got %v", err)
	}
}

func TestSaveResponseRejectsOutOfRangeValue(t *testing.T) {
	questions, _, _ := newTestQuestionService(questionPoolSettings())
	for _, value := range []int{-1, 4} {
		_, err := questions.SaveResponse(context.Background(), "s1",
			&SubmitResponseRequest{CategoryNumber: 1, QuestionIndex: 0, ResponseValue: value})
		if !errors.Is(err, ErrResponseOutOfRange) {
			t.Errorf("作答值 %d 应返回 ErrResponseOutOfRange, got %v", value, err)
		}
	}
}

func TestSaveResponseOverwritesPreviousAnswer(t *testing.T) {
	questions, _, responseRepo := newTestQuestionService(questionPoolSettings())
	ctx := context.Background()

	if _, err := questions.SaveResponse(ctx, "s1", &SubmitResponseRequest{CategoryNumber: 1, QuestionIndex: 0, ResponseValue: 1}); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	progress, err := questions.SaveResponse(ctx, "s1", &SubmitResponseRequest{CategoryNumber: 1, QuestionIndex: 0, ResponseValue: 3})
	if err != nil {
		t.Fatalf("SaveResponse(重复): %v", err)
	}

	if len(responseRepo.rows) != 1 {
		t.Fatalf("重复提交产生了 %d 行, want 1", len(responseRepo.rows))
	}
	if responseRepo.rows[0].ResponseValue != 3 {
		t.Errorf("覆盖后的作答值 = %d, want 3", responseRepo.rows[0].ResponseValue)
	}
	if progress.Answered != 1 || progress.Done {
		t.Errorf("进度 = %+v, want Answered 1", progress)
	}
	// 题目文本在保存时物化到行上
	if responseRepo.rows[0].QuestionText != "做事时提不起劲或没有兴趣" {
		t.Errorf("行上的题目文本 = %q", responseRepo.rows[0].QuestionText)
	}
}

func TestSaveResponseSurvivesPlanCacheLoss(t *testing.T) {
	questions, planRepo, _ := newTestQuestionService(questionPoolSettings())
	ctx := context.Background()

	if _, err := questions.SaveResponse(ctx, "s1", &SubmitResponseRequest{CategoryNumber: 1, QuestionIndex: 0, ResponseValue: 2}); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	// 缓存过期后计划被重建，已有作答按 (类目, 序号) 继续有效
	planRepo.plans = nil
	view, err := questions.CurrentQuestion(ctx, "s1")
	if err != nil {
		t.Fatalf("CurrentQuestion: %v", err)
	}
	if view.Answered != 1 || view.Position != 2 {
		t.Errorf("重建后进度 = %+v, want 已答 1 指向第 2 题", view)
	}
	if planRepo.saves != 2 {
		t.Errorf("计划构建次数 = %d, want 2", planRepo.saves)
	}
}

func TestScoreAggregatesByCategory(t *testing.T) {
	questions, _, responseRepo := newTestQuestionService(questionPoolSettings())
	responseRepo.rows = []model.ScaleResponse{
		{SessionID: "s1", CategoryNumber: 1, CategoryName: "兴趣减退", QuestionIndex: 0, ResponseValue: 2},
		{SessionID: "s1", CategoryNumber: 1, CategoryName: "兴趣减退", QuestionIndex: 1, ResponseValue: 3},
		{SessionID: "s1", CategoryNumber: 2, CategoryName: "情绪低落", QuestionIndex: 0, ResponseValue: 1},
		{SessionID: "other", CategoryNumber: 1, QuestionIndex: 0, ResponseValue: 3},
	}

	score, err := questions.Score("s1")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.TotalScore != 6 || score.AnswerCount != 3 {
		t.Errorf("TotalScore/AnswerCount = %d/%d, want 6/3", score.TotalScore, score.AnswerCount)
	}
	if score.Severity != SeverityMild {
		t.Errorf("Severity = %q, want %q", score.Severity, SeverityMild)
	}
	if len(score.Categories) != 2 {
		t.Fatalf("类目数 = %d, want 2", len(score.Categories))
	}
	first := score.Categories[0]
	if first.CategoryNumber != 1 || first.Sum != 5 || first.Count != 2 || first.Average != 2.5 {
		t.Errorf("类目 1 汇总 = %+v", first)
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		total int
		want  string
	}{
		{0, SeverityMinimal},
		{4, SeverityMinimal},
		{5, SeverityMild},
		{9, SeverityMild},
		{10, SeverityModerate},
		{14, SeverityModerate},
		{15, SeverityModeratelySevere},
		{19, SeverityModeratelySevere},
		{20, SeveritySevere},
		{27, SeveritySevere},
	}
	for _, tc := range cases {
		if got := severityFor(tc.total); got != tc.want {
			t.Errorf("severityFor(%d) = %q, want %q", tc.total, got, tc.want)
		}
	}
}

func TestInvalidatePlanDropsCache(t *testing.T) {
	questions, planRepo, _ := newTestQuestionService(questionPoolSettings())
	ctx := context.Background()

	if _, err := questions.Plan(ctx, "s1"); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := questions.InvalidatePlan(ctx, "s1"); err != nil {
		t.Fatalf("InvalidatePlan: %v", err)
	}
	if len(planRepo.deleted) != 1 || planRepo.deleted[0] != "s1" {
		t.Errorf("deleted = %v, want [s1]", planRepo.deleted)
	}
	if _, ok := planRepo.plans["s1"]; ok {
		t.Error("缓存的计划未被删除")
	}
}
