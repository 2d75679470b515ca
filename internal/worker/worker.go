// Package worker 消费异步计算任务
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/model"
	"github.com/freedkr/shebao/internal/queue"
	"github.com/freedkr/shebao/internal/service"
)

// Calculator 执行一次完整计算
type Calculator interface {
	Calculate(ctx context.Context, jobID string) (*service.CalculationReport, error)
}

// Worker 计算任务Worker
type Worker struct {
	queue        queue.Client
	calc         Calculator
	pollInterval time.Duration
	blockTimeout time.Duration
	log          *logrus.Entry
}

// New 创建Worker
func New(q queue.Client, calc Calculator, pollInterval, blockTimeout time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	return &Worker{
		queue:        q,
		calc:         calc,
		pollInterval: pollInterval,
		blockTimeout: blockTimeout,
		log:          logger.WithComponent("worker"),
	}
}

// Run 循环处理任务直到ctx取消
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("计算Worker已启动，等待任务...")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("计算Worker已停止")
			return
		case <-ticker.C:
			// 队列中有积压时连续处理
			for {
				processed, err := w.ProcessNext(ctx)
				if err != nil {
					w.log.WithError(err).Warn("获取任务失败")
				}
				if !processed || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// ProcessNext 取出并处理一个任务，队列为空时返回false
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.DequeueJob(ctx, w.blockTimeout)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.log.WithField("job_id", job.ID)
	log.Info("开始处理计算任务")

	if err := w.queue.UpdateJobStatus(ctx, job.ID, queue.StatusProcessing, nil); err != nil {
		log.WithError(err).Warn("更新任务状态失败")
	}

	report, calcErr := w.calc.Calculate(ctx, job.ID)

	// 任务结果在ctx取消后也要写回
	statusCtx := context.WithoutCancel(ctx)
	if calcErr != nil {
		log.WithError(calcErr).Warn("计算任务失败")
		err = w.queue.UpdateJobStatus(statusCtx, job.ID, queue.StatusFailed, func(j *queue.Job) {
			j.Error = calcErr.Error()
			j.ErrorCode = string(model.CodeOf(calcErr))
		})
	} else {
		log.WithField("results", len(report.Results)).Info("计算任务完成")
		err = w.queue.UpdateJobStatus(statusCtx, job.ID, queue.StatusCompleted, func(j *queue.Job) {
			j.RunID = report.RunID
			j.ResultCount = len(report.Results)
			j.Error = ""
		})
	}
	if err != nil {
		log.WithError(err).Error("写回任务结果失败")
	}
	return true, nil
}
