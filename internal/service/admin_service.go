// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"

	"mindcare-go/internal/model"
	"mindcare-go/internal/repository"
	"mindcare-go/pkg/tasks"

	"gorm.io/gorm"
)

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []UserDetailResponse `json:"content"`
	TotalElements int64                `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

// UserDetailResponse 定义了用户列表项的详细结构。
type UserDetailResponse struct {
	UserID    uint            `json:"userId"`
	Username  string          `json:"username"`
	FullName  string          `json:"fullName"`
	Role      string          `json:"role"`
	Status    int             `json:"status"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// SessionListResponse 定义了会话列表 API 的响应结构。
type SessionListResponse struct {
	Content       []SessionListItem `json:"content"`
	TotalElements int64             `json:"totalElements"`
	TotalPages    int               `json:"totalPages"`
	Size          int               `json:"size"`
	Number        int               `json:"number"`
}

// SessionListItem 定义了会话列表项的结构。
type SessionListItem struct {
	SessionID   string             `json:"sessionId"`
	UserID      uint               `json:"userId"`
	Username    string             `json:"username"`
	ModuleOrder string             `json:"moduleOrder"`
	State       model.SessionState `json:"state"`
	TotalScore  *int               `json:"totalScore,omitempty"`
	Severity    string             `json:"severity,omitempty"`
	StartedAt   model.LocalTime    `json:"startedAt"`
	CompletedAt *model.LocalTime   `json:"completedAt,omitempty"`
}

// DashboardStatistics 是后台首页的统计汇总。
type DashboardStatistics struct {
	Sessions   map[model.SessionState]int64 `json:"sessions"`
	Severities map[string]int64             `json:"severities"`
	Orders     *OrderStatistics             `json:"orders"`
	TotalUsers int64                        `json:"totalUsers"`
}

// AdminService 接口定义了所有管理员相关的业务操作。
type AdminService interface {
	// 设置管理
	ListSettings() ([]model.AppSetting, error)
	UpdateSettings(values map[string]string) error

	// 用户与会话管理
	ListUsers(page, size int) (*UserListResponse, error)
	ListSessions(state string, page, size int) (*SessionListResponse, error)
	GetSessionDetail(ctx context.Context, sessionID string) (*SessionSummary, error)
	EraseSession(ctx context.Context, sessionID string) error

	// 统计与后台分析
	Statistics() (*DashboardStatistics, error)
	TriggerAnalysis(sessionID, requestedBy string) error
	ListAnalyses(sessionID string) ([]model.AnalysisResult, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo     repository.UserRepository
	sessionRepo  repository.SessionRepository
	analysisRepo repository.AnalysisRepository
	settings     SettingsService
	balance      BalanceService
	assessment   AssessmentService
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	analysisRepo repository.AnalysisRepository,
	settings SettingsService,
	balance BalanceService,
	assessment AssessmentService,
) AdminService {
	return &adminService{
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		analysisRepo: analysisRepo,
		settings:     settings,
		balance:      balance,
		assessment:   assessment,
	}
}

// ListSettings 返回全部运营设置。
func (s *adminService) ListSettings() ([]model.AppSetting, error) {
	return s.settings.All()
}

// UpdateSettings 批量更新运营设置。进行中的会话不受影响：
// 量表计划与访谈提示词在各自环节开始时已快照。
func (s *adminService) UpdateSettings(values map[string]string) error {
	if len(values) == 0 {
		return errors.New("没有需要更新的设置")
	}
	return s.settings.UpdateBatch(values)
}

// ListUsers 以分页的形式返回用户列表。
func (s *adminService) ListUsers(page, size int) (*UserListResponse, error) {
	offset := (page - 1) * size
	users, total, err := s.userRepo.FindWithPagination(offset, size)
	if err != nil {
		return nil, err
	}

	userResponses := make([]UserDetailResponse, 0, len(users))
	for _, u := range users {
		// 转换角色为状态码
		status := 1
		if u.Role == model.RoleAdmin {
			status = 0
		}
		userResponses = append(userResponses, UserDetailResponse{
			UserID:    u.ID,
			Username:  u.Username,
			FullName:  u.FullName,
			Role:      u.Role,
			Status:    status,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}

	return &UserListResponse{
		Content:       userResponses,
		TotalElements: total,
		TotalPages:    totalPages(total, size),
		Size:          size,
		Number:        page,
	}, nil
}

// ListSessions 以分页的形式返回会话列表，state 为空时不过滤。
func (s *adminService) ListSessions(state string, page, size int) (*SessionListResponse, error) {
	offset := (page - 1) * size
	sessions, total, err := s.sessionRepo.FindWithPagination(state, offset, size)
	if err != nil {
		return nil, err
	}

	items := make([]SessionListItem, 0, len(sessions))
	for _, sess := range sessions {
		item := SessionListItem{
			SessionID:   sess.SessionID,
			UserID:      sess.UserID,
			ModuleOrder: sess.ModuleOrder,
			State:       sess.State,
			TotalScore:  sess.TotalScore,
			Severity:    sess.Severity,
			StartedAt:   model.LocalTime(sess.StartedAt),
		}
		if sess.CompletedAt != nil {
			lt := model.LocalTime(*sess.CompletedAt)
			item.CompletedAt = &lt
		}
		if user, err := s.userRepo.FindByID(sess.UserID); err == nil {
			item.Username = user.Username
		}
		items = append(items, item)
	}

	return &SessionListResponse{
		Content:       items,
		TotalElements: total,
		TotalPages:    totalPages(total, size),
		Size:          size,
		Number:        page,
	}, nil
}

// GetSessionDetail 返回单个会话的完整汇总。
func (s *adminService) GetSessionDetail(ctx context.Context, sessionID string) (*SessionSummary, error) {
	return s.assessment.AdminSummary(ctx, sessionID)
}

// EraseSession 彻底删除会话的全部数据。
func (s *adminService) EraseSession(ctx context.Context, sessionID string) error {
	return s.assessment.Erase(ctx, sessionID)
}

// Statistics 汇总后台首页需要的统计数据。
func (s *adminService) Statistics() (*DashboardStatistics, error) {
	states, err := s.sessionRepo.CountByState()
	if err != nil {
		return nil, fmt.Errorf("统计会话状态失败: %w", err)
	}
	severities, err := s.sessionRepo.CountBySeverity()
	if err != nil {
		return nil, fmt.Errorf("统计严重程度分布失败: %w", err)
	}
	orders, err := s.balance.Statistics()
	if err != nil {
		return nil, fmt.Errorf("统计环节顺序分布失败: %w", err)
	}
	_, totalUsers, err := s.userRepo.FindWithPagination(0, 1)
	if err != nil {
		return nil, fmt.Errorf("统计用户总数失败: %w", err)
	}

	return &DashboardStatistics{
		Sessions:   states,
		Severities: severities,
		Orders:     orders,
		TotalUsers: totalUsers,
	}, nil
}

// TriggerAnalysis 手动触发一次后台分析。只有已完成的会话才有完整的
// 量表与访谈数据可供分析。
func (s *adminService) TriggerAnalysis(sessionID, requestedBy string) error {
	session, err := s.sessionRepo.FindBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("查询会话失败: %w", err)
	}
	if session.State != model.StateCompleted {
		return &InvalidTransitionError{From: session.State, Op: "analyze"}
	}
	return s.assessment.DispatchAnalysis(sessionID, tasks.TriggerManual, requestedBy)
}

// ListAnalyses 返回会话的全部分析结果，新的在前。
func (s *adminService) ListAnalyses(sessionID string) ([]model.AnalysisResult, error) {
	return s.analysisRepo.FindBySession(sessionID)
}

func totalPages(total int64, size int) int {
	if total > 0 && size > 0 {
		return (int(total) + size - 1) / size
	}
	return 0
}
