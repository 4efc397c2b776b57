package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mindcare-go/internal/model"
	"mindcare-go/pkg/llm"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

type fakeStateRepo struct {
	contexts map[string]*model.InterviewContext
	getErr   error
	saveErr  error
	saves    int
	deleted  []string
}

func (r *fakeStateRepo) Get(ctx context.Context, sessionID string) (*model.InterviewContext, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.contexts[sessionID], nil
}

func (r *fakeStateRepo) Save(ctx context.Context, ic *model.InterviewContext) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if r.contexts == nil {
		r.contexts = map[string]*model.InterviewContext{}
	}
	r.contexts[ic.SessionID] = ic
	r.saves++
	return nil
}

func (r *fakeStateRepo) Delete(ctx context.Context, sessionID string) error {
	delete(r.contexts, sessionID)
	r.deleted = append(r.deleted, sessionID)
	return nil
}

type fakeConversationRepo struct {
	logRecord      *model.ConversationLog
	exchanges      []model.ConversationExchange
	hasLog         bool
	saveErr        error
	saveCalls      int
	savedLog       *model.ConversationLog
	savedExchanges []model.ConversationExchange
}

func (r *fakeConversationRepo) SaveCompleted(logRecord *model.ConversationLog, exchanges []model.ConversationExchange) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saveCalls++
	r.savedLog = logRecord
	r.savedExchanges = exchanges
	r.hasLog = true
	return nil
}

func (r *fakeConversationRepo) FindLogBySession(sessionID string) (*model.ConversationLog, error) {
	if r.logRecord == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return r.logRecord, nil
}

func (r *fakeConversationRepo) FindExchangesBySession(sessionID string) ([]model.ConversationExchange, error) {
	return r.exchanges, nil
}

func (r *fakeConversationRepo) HasLog(sessionID string) (bool, error) {
	return r.hasLog, nil
}

// fakeLLM 把预置分块依次写入 writer，并记录收到的完整提示。
type fakeLLM struct {
	chunks   []string
	err      error
	calls    int
	messages [][]llm.Message
	params   []*llm.GenerationParams
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.calls++
	f.messages = append(f.messages, messages)
	f.params = append(f.params, gen)
	for _, chunk := range f.chunks {
		if err := writer.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeLLM) CollectChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.calls++
	f.messages = append(f.messages, messages)
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.chunks, ""), nil
}

func interviewSettings() map[string]string {
	return map[string]string{
		KeyInterviewPrompt:       "你是一名温和的访谈师。",
		KeyInterviewInstructions: "请放松并如实作答。",
		KeyInterviewMaxExchanges: "3",
		KeyInterviewTemperature:  "0.9",
		KeyInterviewClosing:      "感谢你的分享。",
	}
}

func newTestInterviewService(values map[string]string, client llm.Client) (InterviewService, *fakeStateRepo, *fakeConversationRepo, *fakeSettingRepo) {
	settings, settingRepo := newTestSettings(values)
	stateRepo := &fakeStateRepo{}
	conversationRepo := &fakeConversationRepo{}
	return NewInterviewService(stateRepo, conversationRepo, settings, client), stateRepo, conversationRepo, settingRepo
}

// newWSPair 建立一对真实的 websocket 连接，返回服务端与客户端两侧。
func newWSPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("websocket 升级失败: %v", err)
			return
		}
		connCh <- conn
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("websocket 连接失败: %v", err)
	}
	server := <-connCh
	cleanup := func() {
		client.Close()
		server.Close()
		srv.Close()
	}
	return server, client, cleanup
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取 websocket 帧失败: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("帧不是 JSON: %q", data)
	}
	return frame
}

func TestBeginSnapshotsPromptAndCap(t *testing.T) {
	interviews, stateRepo, _, settingRepo := newTestInterviewService(interviewSettings(), &fakeLLM{})
	ctx := context.Background()

	intro, err := interviews.Begin(ctx, "s1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if intro.Instructions != "请放松并如实作答。" || intro.MaxExchanges != 3 || intro.Remaining != 3 {
		t.Errorf("Intro = %+v", intro)
	}

	ic := stateRepo.contexts["s1"]
	if ic == nil {
		t.Fatal("访谈上下文未保存")
	}
	if ic.SystemPrompt != "你是一名温和的访谈师。" || ic.Temperature != 0.9 {
		t.Errorf("上下文快照 = %+v", ic)
	}

	// 之后的设置改动不影响已开始的访谈
	settingRepo.values[KeyInterviewPrompt] = "换了一个提示词"
	settingRepo.values[KeyInterviewMaxExchanges] = "8"
	intro, err = interviews.Begin(ctx, "s1")
	if err != nil {
		t.Fatalf("Begin(重入): %v", err)
	}
	if intro.MaxExchanges != 3 {
		t.Errorf("重入后 MaxExchanges = %d, want 快照值 3", intro.MaxExchanges)
	}
	if stateRepo.saves != 1 {
		t.Errorf("上下文保存次数 = %d, want 1", stateRepo.saves)
	}
}

func TestBeginRequiresPrompt(t *testing.T) {
	values := interviewSettings()
	delete(values, KeyInterviewPrompt)
	interviews, _, _, _ := newTestInterviewService(values, &fakeLLM{})

	_, err := interviews.Begin(context.Background(), "s1")
	if !IsSettingMissing(err) {
		t.Errorf("缺少访谈提示词应返回 SettingMissingError, got %v", err)
	}
}

func TestBeginInvalidCapFallsBackToTen(t *testing.T) {
	values := interviewSettings()
	values[KeyInterviewMaxExchanges] = "-2"
	interviews, _, _, _ := newTestInterviewService(values, &fakeLLM{})

	intro, err := interviews.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if intro.MaxExchanges != 10 {
		t.Errorf("非法上限应回落为 10, got %d", intro.MaxExchanges)
	}
}

func TestStreamTurnStreamsChunksAndAppendsExchange(t *testing.T) {
	client := &fakeLLM{chunks: []string{"你好", "呀"}}
	interviews, stateRepo, _, _ := newTestInterviewService(interviewSettings(), client)
	server, wsClient, cleanup := newWSPair(t)
	defer cleanup()

	err := interviews.StreamTurn(context.Background(), "s1", "我最近睡不好", server, nil)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	// 分块帧按序到达
	for _, want := range []string{"你好", "呀"} {
		frame := readFrame(t, wsClient)
		if frame["chunk"] != want {
			t.Errorf("chunk = %v, want %q", frame["chunk"], want)
		}
	}
	// 末尾是完成通知
	frame := readFrame(t, wsClient)
	if frame["type"] != "completion" || frame["status"] != "finished" {
		t.Errorf("完成帧 = %v", frame)
	}
	if frame["remaining"] != float64(2) || frame["closed"] != false {
		t.Errorf("完成帧进度 = %v", frame)
	}

	// 上下文追加了本轮问答
	ic := stateRepo.contexts["s1"]
	if ic.ExchangeCount != 1 || len(ic.Messages) != 2 {
		t.Fatalf("上下文 = %+v", ic)
	}
	if ic.Messages[0].Role != "user" || ic.Messages[0].Content != "我最近睡不好" {
		t.Errorf("受测者消息 = %+v", ic.Messages[0])
	}
	if ic.Messages[1].Role != "assistant" || ic.Messages[1].Content != "你好呀" {
		t.Errorf("agent消息 = %+v", ic.Messages[1])
	}

	// 送入生成服务的提示：1 条 system + 本轮发言，温度取自快照
	if len(client.messages) != 1 || len(client.messages[0]) != 2 {
		t.Fatalf("提示消息 = %+v", client.messages)
	}
	if client.messages[0][0].Role != "system" || client.messages[0][1].Content != "我最近睡不好" {
		t.Errorf("提示组装 = %+v", client.messages[0])
	}
	if client.params[0] == nil || *client.params[0].Temperature != 0.9 {
		t.Errorf("生成参数 = %+v", client.params[0])
	}
}

func TestStreamTurnSendsFullHistory(t *testing.T) {
	client := &fakeLLM{chunks: []string{"嗯。"}}
	interviews, stateRepo, _, _ := newTestInterviewService(interviewSettings(), client)
	server, wsClient, cleanup := newWSPair(t)
	defer cleanup()

	ic := &model.InterviewContext{
		SessionID: "s1", SystemPrompt: "P", MaxExchanges: 5, StartedAt: time.Now(),
	}
	ic.AppendExchange("第一问", "第一答", time.Now(), time.Now())
	stateRepo.contexts = map[string]*model.InterviewContext{"s1": ic}

	if err := interviews.StreamTurn(context.Background(), "s1", "第二问", server, nil); err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	for i := 0; i < 2; i++ {
		readFrame(t, wsClient) // chunk + completion
	}

	// system + 历史一轮（2 条）+ 本轮发言
	got := client.messages[0]
	if len(got) != 4 {
		t.Fatalf("提示消息数 = %d, want 4", len(got))
	}
	if got[1].Content != "第一问" || got[2].Content != "第一答" || got[3].Content != "第二问" {
		t.Errorf("历史重建 = %+v", got)
	}
}

func TestStreamTurnProviderFailureLeavesNoTrace(t *testing.T) {
	client := &fakeLLM{chunks: []string{"开了个头"}, err: errors.New("upstream 502")}
	interviews, stateRepo, _, _ := newTestInterviewService(interviewSettings(), client)
	server, _, cleanup := newWSPair(t)
	defer cleanup()

	ic := &model.InterviewContext{SessionID: "s1", SystemPrompt: "P", MaxExchanges: 5, StartedAt: time.Now()}
	ic.AppendExchange("旧问", "旧答", time.Now(), time.Now())
	stateRepo.contexts = map[string]*model.InterviewContext{"s1": ic}

	err := interviews.StreamTurn(context.Background(), "s1", "新的发言", server, nil)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if ic.ExchangeCount != 1 || len(ic.Messages) != 2 {
		t.Errorf("失败的生成在上下文中留下了痕迹: %+v", ic)
	}
	if stateRepo.saves != 0 {
		t.Errorf("失败后不应保存上下文, saves = %d", stateRepo.saves)
	}
}

func TestStreamTurnRejectsWhenCapExhausted(t *testing.T) {
	client := &fakeLLM{chunks: []string{"不该出现"}}
	interviews, stateRepo, _, _ := newTestInterviewService(interviewSettings(), client)
	server, wsClient, cleanup := newWSPair(t)
	defer cleanup()

	ic := &model.InterviewContext{SessionID: "s1", SystemPrompt: "P", MaxExchanges: 1, StartedAt: time.Now()}
	ic.AppendExchange("问", "答", time.Now(), time.Now())
	stateRepo.contexts = map[string]*model.InterviewContext{"s1": ic}

	err := interviews.StreamTurn(context.Background(), "s1", "再说一句", server, nil)
	if !errors.Is(err, ErrInterviewClosed) {
		t.Fatalf("err = %v, want ErrInterviewClosed", err)
	}
	if client.calls != 0 {
		t.Errorf("轮次用尽后不应再调用生成服务, calls = %d", client.calls)
	}
	frame := readFrame(t, wsClient)
	if frame["type"] != "closing" || frame["message"] != "感谢你的分享。" {
		t.Errorf("结束语帧 = %v", frame)
	}
}

func TestStreamTurnFinalExchangeSendsClosing(t *testing.T) {
	client := &fakeLLM{chunks: []string{"最后的回答"}}
	values := interviewSettings()
	values[KeyInterviewMaxExchanges] = "1"
	interviews, stateRepo, _, _ := newTestInterviewService(values, client)
	server, wsClient, cleanup := newWSPair(t)
	defer cleanup()

	if err := interviews.StreamTurn(context.Background(), "s1", "唯一的发言", server, nil); err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if frame := readFrame(t, wsClient); frame["chunk"] != "最后的回答" {
		t.Errorf("chunk 帧 = %v", frame)
	}
	frame := readFrame(t, wsClient)
	if frame["type"] != "completion" || frame["remaining"] != float64(0) || frame["closed"] != true {
		t.Errorf("完成帧 = %v", frame)
	}
	if frame := readFrame(t, wsClient); frame["type"] != "closing" {
		t.Errorf("用尽上限后应追加结束语帧, got %v", frame)
	}
	if stateRepo.contexts["s1"].ExchangeCount != 1 {
		t.Errorf("ExchangeCount = %d, want 1", stateRepo.contexts["s1"].ExchangeCount)
	}
}

func TestStreamTurnStopDropsEveryChunk(t *testing.T) {
	client := &fakeLLM{chunks: []string{"a", "b", "c"}}
	interviews, stateRepo, _, _ := newTestInterviewService(interviewSettings(), client)
	server, wsClient, cleanup := newWSPair(t)
	defer cleanup()

	ic := &model.InterviewContext{SessionID: "s1", SystemPrompt: "P", MaxExchanges: 5, StartedAt: time.Now()}
	stateRepo.contexts = map[string]*model.InterviewContext{"s1": ic}

	err := interviews.StreamTurn(context.Background(), "s1", "发言", server, func() bool { return true })
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	// 一个分块都没下发，本轮视同未发生
	frame := readFrame(t, wsClient)
	if frame["type"] != "completion" || frame["remaining"] != float64(5) {
		t.Errorf("首帧 = %v, want 完成通知且轮次未消耗", frame)
	}
	if ic.ExchangeCount != 0 || stateRepo.saves != 0 {
		t.Errorf("中止的轮次留下了痕迹: count=%d, saves=%d", ic.ExchangeCount, stateRepo.saves)
	}
}

func TestFinalizePersistsTranscriptOnce(t *testing.T) {
	interviews, stateRepo, conversationRepo, _ := newTestInterviewService(interviewSettings(), &fakeLLM{})
	ctx := context.Background()

	ic := &model.InterviewContext{
		SessionID: "s1", SystemPrompt: "P", MaxExchanges: 3,
		StartedAt: time.Now().Add(-90 * time.Second),
	}
	ic.AppendExchange("问一", "答一", time.Now(), time.Now())
	ic.AppendExchange("问二", "答二", time.Now(), time.Now())
	stateRepo.contexts = map[string]*model.InterviewContext{"s1": ic}

	if err := interviews.Finalize(ctx, "s1"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	saved := conversationRepo.savedLog
	if saved == nil {
		t.Fatal("访谈记录未落库")
	}
	if saved.SessionID != "s1" || saved.TotalExchanges != 2 || saved.PromptSnapshot != "P" {
		t.Errorf("落库记录 = %+v", saved)
	}
	if saved.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", saved.Model)
	}
	if saved.DurationSeconds < 89 {
		t.Errorf("DurationSeconds = %d, want >= 89", saved.DurationSeconds)
	}
	if len(conversationRepo.savedExchanges) != 2 {
		t.Fatalf("逐轮行数 = %d, want 2", len(conversationRepo.savedExchanges))
	}
	second := conversationRepo.savedExchanges[1]
	if second.Sequence != 2 || second.Question != "问二" || second.Answer != "答二" {
		t.Errorf("第二轮 = %+v", second)
	}
	if len(stateRepo.deleted) != 1 {
		t.Errorf("Redis 上下文未清理: %v", stateRepo.deleted)
	}

	// 已落库后重复收尾不产生第二条记录
	if err := interviews.Finalize(ctx, "s1"); err != nil {
		t.Fatalf("Finalize(重复): %v", err)
	}
	if conversationRepo.saveCalls != 1 {
		t.Errorf("落库次数 = %d, want 1", conversationRepo.saveCalls)
	}
}

func TestFinalizeWithLostContextWritesEmptyRecord(t *testing.T) {
	interviews, _, conversationRepo, _ := newTestInterviewService(interviewSettings(), &fakeLLM{})

	if err := interviews.Finalize(context.Background(), "s1"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if conversationRepo.savedLog == nil || conversationRepo.savedLog.TotalExchanges != 0 {
		t.Errorf("上下文缺失时应落空记录, got %+v", conversationRepo.savedLog)
	}
}

func TestTranscriptFromCompletedLog(t *testing.T) {
	interviews, _, conversationRepo, _ := newTestInterviewService(interviewSettings(), &fakeLLM{})
	conversationRepo.logRecord = &model.ConversationLog{
		SessionID: "s1", TotalExchanges: 2, DurationSeconds: 120, Model: "m1",
	}
	conversationRepo.exchanges = []model.ConversationExchange{
		{Sequence: 1, Question: "q1", Answer: "a1"},
		{Sequence: 2, Question: "q2", Answer: "a2"},
	}

	view, err := interviews.Transcript(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if !view.Completed || view.TotalExchanges != 2 || view.Model != "m1" {
		t.Errorf("view = %+v", view)
	}
	if len(view.Exchanges) != 2 || view.Exchanges[1].Question != "q2" {
		t.Errorf("Exchanges = %+v", view.Exchanges)
	}
}

func TestTranscriptFallsBackToLiveContext(t *testing.T) {
	interviews, stateRepo, _, _ := newTestInterviewService(interviewSettings(), &fakeLLM{})
	ic := &model.InterviewContext{SessionID: "s1", MaxExchanges: 3, StartedAt: time.Now()}
	ic.AppendExchange("进行中的问", "进行中的答", time.Now(), time.Now())
	stateRepo.contexts = map[string]*model.InterviewContext{"s1": ic}

	view, err := interviews.Transcript(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if view.Completed {
		t.Error("进行中的访谈 Completed 应为 false")
	}
	if view.TotalExchanges != 1 || len(view.Exchanges) != 1 || view.Exchanges[0].Answer != "进行中的答" {
		t.Errorf("view = %+v", view)
	}
}

func TestPairExchangesSkipsMalformedRuns(t *testing.T) {
	now := time.Now()
	messages := []model.InterviewMessage{
		{Role: "user", Content: "q1", Timestamp: now},
		{Role: "assistant", Content: "a1", Timestamp: now},
		{Role: "user", Content: "尾部未配对"},
	}
	exchanges := pairExchanges("s1", messages)
	if len(exchanges) != 1 || exchanges[0].Question != "q1" || exchanges[0].Answer != "a1" {
		t.Errorf("exchanges = %+v", exchanges)
	}

	if got := pairExchanges("s1", []model.InterviewMessage{{Role: "assistant", Content: "错位"}, {Role: "user", Content: "x"}}); len(got) != 0 {
		t.Errorf("错位消息不应配对, got %+v", got)
	}
}
