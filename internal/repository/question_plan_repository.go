package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"mindcare-go/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

// questionPlanTTL 是题目计划在 Redis 中的保留时间，与访谈上下文一致。
const questionPlanTTL = 7 * 24 * time.Hour

// QuestionPlanRepository 定义了量表题目计划的缓存接口。
// 计划丢失后可按设置重建，缓存只是为了保证一次会话内题序稳定。
type QuestionPlanRepository interface {
	Get(ctx context.Context, sessionID string) (*model.QuestionnairePlan, error)
	Save(ctx context.Context, plan *model.QuestionnairePlan) error
	Delete(ctx context.Context, sessionID string) error
}

type redisQuestionPlanRepository struct {
	redisClient *redis.Client
}

// NewQuestionPlanRepository 创建一个新的 QuestionPlanRepository 实例。
func NewQuestionPlanRepository(redisClient *redis.Client) QuestionPlanRepository {
	return &redisQuestionPlanRepository{redisClient: redisClient}
}

func questionPlanKey(sessionID string) string {
	return fmt.Sprintf("questionnaire:plan:%s", sessionID)
}

// Get 从 Redis 读取题目计划；不存在时返回 (nil, nil)。
func (r *redisQuestionPlanRepository) Get(ctx context.Context, sessionID string) (*model.QuestionnairePlan, error) {
	jsonData, err := r.redisClient.Get(ctx, questionPlanKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question plan: %w", err)
	}

	var plan model.QuestionnairePlan
	if err := json.Unmarshal([]byte(jsonData), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question plan: %w", err)
	}
	return &plan, nil
}

// Save 将题目计划序列化写入 Redis 并刷新 TTL。
func (r *redisQuestionPlanRepository) Save(ctx context.Context, plan *model.QuestionnairePlan) error {
	jsonData, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal question plan: %w", err)
	}
	if err := r.redisClient.Set(ctx, questionPlanKey(plan.SessionID), jsonData, questionPlanTTL).Err(); err != nil {
		return fmt.Errorf("failed to save question plan: %w", err)
	}
	return nil
}

// Delete 删除一次会话的题目计划。
func (r *redisQuestionPlanRepository) Delete(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, questionPlanKey(sessionID)).Err()
}
