package jobs

import (
	"context"
	"time"

	"github.com/eidos-exchange/eidos-ubi/internal/metrics"
	"github.com/eidos-exchange/eidos-ubi/internal/scheduler"
)

// ComputationRegistry 计算任务注册表
type ComputationRegistry interface {
	ReapStale(olderThan time.Duration) int
	Evict(retention time.Duration) int
	PendingCount() int
}

// ReapStaleJob 将超过时限仍为 pending 的计算任务标记为失败
type ReapStaleJob struct {
	scheduler.BaseJob
	registry  ComputationRegistry
	olderThan time.Duration
}

// NewReapStaleJob 创建任务, olderThan 通常取计算超时的两倍
func NewReapStaleJob(registry ComputationRegistry, olderThan time.Duration) *ReapStaleJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameReapStale]
	return &ReapStaleJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.JobNameReapStale, cfg.Timeout, cfg.RequiresLock),
		registry:  registry,
		olderThan: olderThan,
	}
}

// Execute 执行
func (j *ReapStaleJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	reaped := j.registry.ReapStale(j.olderThan)
	pending := j.registry.PendingCount()
	metrics.SetPendingComputations(pending)

	return &scheduler.JobResult{
		ProcessedCount: reaped + pending,
		AffectedCount:  reaped,
		Details: map[string]interface{}{
			"pending": pending,
		},
	}, nil
}
