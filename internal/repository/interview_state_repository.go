package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"mindcare-go/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
)

// interviewContextTTL 是访谈上下文在 Redis 中的保留时间。
// 超过该时长未活动的访谈视为废弃，上下文自然过期。
const interviewContextTTL = 7 * 24 * time.Hour

// InterviewStateRepository 定义了访谈进行中上下文的存取接口。
type InterviewStateRepository interface {
	Get(ctx context.Context, sessionID string) (*model.InterviewContext, error)
	Save(ctx context.Context, ic *model.InterviewContext) error
	Delete(ctx context.Context, sessionID string) error
}

type redisInterviewStateRepository struct {
	redisClient *redis.Client
}

// NewInterviewStateRepository 创建一个新的 InterviewStateRepository 实例。
func NewInterviewStateRepository(redisClient *redis.Client) InterviewStateRepository {
	return &redisInterviewStateRepository{redisClient: redisClient}
}

func interviewContextKey(sessionID string) string {
	return fmt.Sprintf("interview:context:%s", sessionID)
}

// Get 从 Redis 读取访谈上下文；不存在时返回 (nil, nil)。
func (r *redisInterviewStateRepository) Get(ctx context.Context, sessionID string) (*model.InterviewContext, error) {
	jsonData, err := r.redisClient.Get(ctx, interviewContextKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interview context: %w", err)
	}

	var ic model.InterviewContext
	if err := json.Unmarshal([]byte(jsonData), &ic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interview context: %w", err)
	}
	return &ic, nil
}

// Save 将访谈上下文整体序列化写入 Redis 并刷新 TTL。
func (r *redisInterviewStateRepository) Save(ctx context.Context, ic *model.InterviewContext) error {
	jsonData, err := json.Marshal(ic)
	if err != nil {
		return fmt.Errorf("failed to marshal interview context: %w", err)
	}
	if err := r.redisClient.Set(ctx, interviewContextKey(ic.SessionID), jsonData, interviewContextTTL).Err(); err != nil {
		return fmt.Errorf("failed to save interview context: %w", err)
	}
	return nil
}

// Delete 删除一次会话的访谈上下文（访谈落库后调用）。
func (r *redisInterviewStateRepository) Delete(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, interviewContextKey(sessionID)).Err()
}
