package model

import "time"

// PlanEntry 是题目池中的一个条目：某个类目下的一道题，
// 题目文本在构建时刻物化，之后题库变更不影响进行中的会话。
type PlanEntry struct {
	CategoryNumber int    `json:"categoryNumber"`
	CategoryName   string `json:"categoryName"`
	QuestionIndex  int    `json:"questionIndex"` // 类目内序号，0 起始
	QuestionText   string `json:"questionText"`
}

// QuestionnairePlan 是一次会话的量表作答计划：启用类目下的全部题目，
// 连同标度快照。以 JSON 形式缓存在 Redis 中，丢失后可重建
//（作答以 (类目, 序号) 为键，重建不会丢失或重复已有作答）。
type QuestionnairePlan struct {
	SessionID   string         `json:"sessionId"`
	Entries     []PlanEntry    `json:"entries"`
	ScaleMin    int            `json:"scaleMin"`
	ScaleMax    int            `json:"scaleMax"`
	ScaleLabels map[int]string `json:"scaleLabels"`
	Randomized  bool           `json:"randomized"`
	BuiltAt     time.Time      `json:"builtAt"`
}

// Total 返回计划中的题目总数。
func (p *QuestionnairePlan) Total() int {
	return len(p.Entries)
}

// Find 按 (类目编号, 题目序号) 查找计划条目。
func (p *QuestionnairePlan) Find(categoryNumber, questionIndex int) (*PlanEntry, bool) {
	for i := range p.Entries {
		if p.Entries[i].CategoryNumber == categoryNumber && p.Entries[i].QuestionIndex == questionIndex {
			return &p.Entries[i], true
		}
	}
	return nil, false
}

// InterviewContext 是访谈进行中的可序列化上下文，保存在 Redis 中。
// 提示词与轮次上限在访谈开始时快照，之后管理员改动设置不影响
// 进行中的访谈。
type InterviewContext struct {
	SessionID     string             `json:"sessionId"`
	SystemPrompt  string             `json:"systemPrompt"`
	MaxExchanges  int                `json:"maxExchanges"`
	Temperature   float64            `json:"temperature"`
	Messages      []InterviewMessage `json:"messages"` // user/assistant 交替
	ExchangeCount int                `json:"exchangeCount"`
	StartedAt     time.Time          `json:"startedAt"`
}

// CanContinue 判断是否还允许新的对话轮次（严格小于上限）。
func (c *InterviewContext) CanContinue() bool {
	return c.ExchangeCount < c.MaxExchanges
}

// RemainingExchanges 返回剩余可用轮次。
func (c *InterviewContext) RemainingExchanges() int {
	remaining := c.MaxExchanges - c.ExchangeCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AppendExchange 原子地追加一轮完整交互（受测者一句 + agent一句）并递增轮次计数。
// 只能在生成成功之后调用；失败的生成不会在上下文中留下任何痕迹。
func (c *InterviewContext) AppendExchange(question, answer string, askedAt, answeredAt time.Time) {
	c.Messages = append(c.Messages,
		InterviewMessage{Role: "user", Content: question, Timestamp: askedAt},
		InterviewMessage{Role: "assistant", Content: answer, Timestamp: answeredAt},
	)
	c.ExchangeCount++
}
