// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 评估环节类型：量表问卷与 AI 访谈。
const (
	ModuleQuestionnaire = "questionnaire"
	ModuleInterview     = "interview"
)

// 环节顺序。创建会话时由均衡器分配一次，之后不再改变。
const (
	OrderQuestionnaireFirst = "questionnaire_first"
	OrderInterviewFirst     = "interview_first"
)

// SessionState 表示会话生命周期中的一个状态。
type SessionState string

// 会话状态机：
// created → consented → camera_verified → stage1_active → stage1_done
// → stage2_active → completed；任何未完成状态都可以转入 abandoned。
const (
	StateCreated        SessionState = "created"
	StateConsented      SessionState = "consented"
	StateCameraVerified SessionState = "camera_verified"
	StateStageOneActive SessionState = "stage1_active"
	StateStageOneDone   SessionState = "stage1_done"
	StateStageTwoActive SessionState = "stage2_active"
	StateCompleted      SessionState = "completed"
	StateAbandoned      SessionState = "abandoned"
)

// AssessmentSession 定义了 assessment_sessions 表的 ORM 模型。
// 完成标志（知情同意、摄像头验证、两个环节的完成时间）是恢复会话时
// 重新推导状态的依据，state 列只是当前位置的快照。
type AssessmentSession struct {
	ID                  uint         `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID           string       `gorm:"type:varchar(36);uniqueIndex;not null" json:"sessionId"`
	UserID              uint         `gorm:"index;not null" json:"userId"`
	ModuleOrder         string       `gorm:"type:varchar(32);not null" json:"moduleOrder"`
	State               SessionState `gorm:"type:varchar(32);not null;default:'created';index" json:"state"`
	ConsentAgreed       bool         `gorm:"not null;default:false" json:"consentAgreed"`
	ConsentAt           *time.Time   `json:"consentAt"`
	CameraVerified      bool         `gorm:"not null;default:false" json:"cameraVerified"`
	CameraVerifiedAt    *time.Time   `json:"cameraVerifiedAt"`
	QuestionnaireDone   bool         `gorm:"not null;default:false" json:"questionnaireDone"`
	QuestionnaireDoneAt *time.Time   `json:"questionnaireDoneAt"`
	InterviewDone       bool         `gorm:"not null;default:false" json:"interviewDone"`
	InterviewDoneAt     *time.Time   `json:"interviewDoneAt"`
	TotalScore          *int         `json:"totalScore"`
	Severity            string       `gorm:"type:varchar(32)" json:"severity,omitempty"`
	StartedAt           time.Time    `gorm:"autoCreateTime" json:"startedAt"`
	CompletedAt         *time.Time   `json:"completedAt"`
	UpdatedAt           time.Time    `gorm:"autoUpdateTime" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AssessmentSession) TableName() string {
	return "assessment_sessions"
}

// IsTerminal 判断会话是否处于终态（已完成或已放弃）。
func (s *AssessmentSession) IsTerminal() bool {
	return s.State == StateCompleted || s.State == StateAbandoned
}

// FirstModule 返回按分配顺序排在第一阶段的环节。
func (s *AssessmentSession) FirstModule() string {
	if s.ModuleOrder == OrderInterviewFirst {
		return ModuleInterview
	}
	return ModuleQuestionnaire
}

// SecondModule 返回按分配顺序排在第二阶段的环节。
func (s *AssessmentSession) SecondModule() string {
	if s.FirstModule() == ModuleQuestionnaire {
		return ModuleInterview
	}
	return ModuleQuestionnaire
}

// StageOf 返回指定环节所处的阶段（1 或 2）。
func (s *AssessmentSession) StageOf(module string) int {
	if module == s.FirstModule() {
		return 1
	}
	return 2
}

// ModuleDone 判断指定环节是否已完成。
func (s *AssessmentSession) ModuleDone(module string) bool {
	if module == ModuleQuestionnaire {
		return s.QuestionnaireDone
	}
	return s.InterviewDone
}

// ActiveModule 返回当前激活阶段对应的环节；不在激活状态时返回 false。
func (s *AssessmentSession) ActiveModule() (string, bool) {
	switch s.State {
	case StateStageOneActive:
		return s.FirstModule(), true
	case StateStageTwoActive:
		return s.SecondModule(), true
	}
	return "", false
}

// DeriveState 从持久化的完成标志重新推导会话状态。
// 恢复会话时以这里的结果为准，不信任客户端声称的进度；
// 激活中的 stageN_active 状态无法仅凭标志恢复，推导结果落在
// 其前一个里程碑上，由编排层在重新进入环节时再次激活。
func (s *AssessmentSession) DeriveState() SessionState {
	if s.State == StateAbandoned {
		return StateAbandoned
	}
	switch {
	case s.QuestionnaireDone && s.InterviewDone:
		return StateCompleted
	case s.ModuleDone(s.FirstModule()):
		return StateStageOneDone
	case s.CameraVerified:
		return StateCameraVerified
	case s.ConsentAgreed:
		return StateConsented
	default:
		return StateCreated
	}
}

// NextStep 返回恢复会话时客户端应进入的步骤。
func (s *AssessmentSession) NextStep() string {
	switch s.DeriveState() {
	case StateAbandoned:
		return "abandoned"
	case StateCompleted:
		return "completed"
	case StateStageOneDone:
		return s.SecondModule()
	case StateCameraVerified:
		return s.FirstModule()
	case StateConsented:
		return "camera"
	default:
		return "consent"
	}
}
