// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"

	"mindcare-go/internal/model"
)

// 业务层哨兵错误。handler 层用 errors.Is/As 映射为 HTTP 状态码。
var (
	// ErrSessionNotFound 表示会话不存在。
	ErrSessionNotFound = errors.New("评估会话不存在")
	// ErrUserNotFound 表示用户不存在。
	ErrUserNotFound = errors.New("用户不存在")
	// ErrConsentRequired 表示受测者未同意知情同意书，会话停留在 created 状态。
	ErrConsentRequired = errors.New("必须同意知情同意书才能继续评估")
	// ErrProviderUnavailable 表示文本生成服务暂时不可用。
	// 这是唯一可以原样重试的错误：失败的生成不会写入任何状态。
	ErrProviderUnavailable = errors.New("AI 服务暂时不可用")
	// ErrSessionImmutable 表示会话已处于终态，拒绝任何写操作。
	ErrSessionImmutable = errors.New("会话已结束，不能再修改")
	// ErrEmptyQuestionPool 表示启用的类目下没有任何题目，量表环节无法开始。
	ErrEmptyQuestionPool = errors.New("题库为空，无法开始量表")
	// ErrResponseOutOfRange 表示作答值不在配置的标度范围内。
	ErrResponseOutOfRange = errors.New("作答值超出标度范围")
	// ErrQuestionNotInPlan 表示提交的题目不属于本次会话的量表计划。
	ErrQuestionNotInPlan = errors.New("题目不在本次量表计划中")
	// ErrInterviewClosed 表示访谈轮次已用尽或已收尾，不再接受新的发言。
	ErrInterviewClosed = errors.New("访谈已结束")
)

// InvalidTransitionError 表示在当前状态下不允许执行请求的操作。
type InvalidTransitionError struct {
	From model.SessionState
	Op   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("状态 %s 下不允许执行操作 %s", e.From, e.Op)
}

// SettingMissingError 表示某个必需的运营设置缺失或内容为空，
// 依赖它的环节拒绝启动。
type SettingMissingError struct {
	Key string
}

func (e *SettingMissingError) Error() string {
	return fmt.Sprintf("缺少必需的设置项: %s", e.Key)
}

// IsInvalidTransition 判断错误是否为非法状态转换。
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}

// IsSettingMissing 判断错误是否为设置缺失。
func IsSettingMissing(err error) bool {
	var se *SettingMissingError
	return errors.As(err, &se)
}
