// Package queue 基于Redis的异步计算任务队列
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/freedkr/shebao/internal/config"
	"github.com/freedkr/shebao/internal/model"
)

// CalculateQueue 计算任务队列名
const CalculateQueue = "queue:calculate"

// 任务类型
const JobTypeCalculate = "calculate"

// 任务状态
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const defaultJobTTL = 24 * time.Hour

// Client 任务队列接口
type Client interface {
	EnqueueJob(ctx context.Context, job *Job) error
	// DequeueJob 阻塞等待下一个任务，超时无任务时返回 nil, nil
	DequeueJob(ctx context.Context, timeout time.Duration) (*Job, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	UpdateJobStatus(ctx context.Context, jobID, status string, update func(*Job)) error
	Ping(ctx context.Context) error
	Close() error
}

// Job 异步计算任务
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"` // pending, processing, completed, failed
	City        string    `json:"city,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	ResultCount int       `json:"result_count,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewJob 创建待处理的计算任务
func NewJob(id, city string) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Type:      JobTypeCalculate,
		Status:    StatusPending,
		City:      city,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Finished 任务是否已结束
func (j *Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

type redisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQueue 创建Redis队列并测试连接
func NewRedisQueue(ctx context.Context, qcfg config.QueueConfig) (Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     qcfg.Addr,
		Password: qcfg.Password,
		DB:       qcfg.DB,
	})

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	ttl := qcfg.JobTTL
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	return &redisClient{client: rdb, ttl: ttl}, nil
}

func (c *redisClient) EnqueueJob(ctx context.Context, job *Job) error {
	if err := c.saveJob(ctx, job); err != nil {
		return err
	}

	if err := c.client.LPush(ctx, CalculateQueue, job.ID).Err(); err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (c *redisClient) DequeueJob(ctx context.Context, timeout time.Duration) (*Job, error) {
	// 阻塞式从队列获取任务ID
	result, err := c.client.BRPop(ctx, timeout, CalculateQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 没有任务
		}
		return nil, fmt.Errorf("任务出队失败: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("redis返回格式异常: %v", result)
	}

	return c.GetJob(ctx, result[1])
}

func (c *redisClient) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := c.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.NewNotFoundError(fmt.Sprintf("任务不存在: %s", jobID))
		}
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("解析任务失败: %w", err)
	}
	return &job, nil
}

func (c *redisClient) UpdateJobStatus(ctx context.Context, jobID, status string, update func(*Job)) error {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = status
	job.UpdatedAt = time.Now()
	if update != nil {
		update(job)
	}
	return c.saveJob(ctx, job)
}

func (c *redisClient) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	if err := c.client.Set(ctx, jobKey(job.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("保存任务失败: %w", err)
	}
	return nil
}

func (c *redisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisClient) Close() error {
	return c.client.Close()
}
