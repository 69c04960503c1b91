package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/eidos-exchange/eidos-ubi/internal/scheduler"
)

// JobRecordCleaner 计算任务留档清理
type JobRecordCleaner interface {
	CleanupBefore(ctx context.Context, before time.Time) (int64, error)
}

// EvictJobsJob 清理过期的终态计算任务 (内存注册表与数据库留档)
type EvictJobsJob struct {
	scheduler.BaseJob
	registry  ComputationRegistry
	records   JobRecordCleaner
	retention time.Duration
	now       func() time.Time
}

// NewEvictJobsJob 创建任务, records 可为空
func NewEvictJobsJob(registry ComputationRegistry, records JobRecordCleaner, retention time.Duration) *EvictJobsJob {
	cfg := scheduler.DefaultJobConfigs[scheduler.JobNameEvictJobs]
	return &EvictJobsJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.JobNameEvictJobs, cfg.Timeout, cfg.RequiresLock),
		registry:  registry,
		records:   records,
		retention: retention,
		now:       time.Now,
	}
}

// Execute 执行
func (j *EvictJobsJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	evicted := j.registry.Evict(j.retention)
	result := &scheduler.JobResult{
		AffectedCount: evicted,
		Details: map[string]interface{}{
			"evicted": evicted,
		},
	}

	if j.records == nil {
		return result, nil
	}

	deleted, err := j.records.CleanupBefore(ctx, j.now().Add(-j.retention))
	if err != nil {
		result.ErrorCount++
		return result, fmt.Errorf("cleanup job records: %w", err)
	}
	result.AffectedCount += int(deleted)
	result.Details["records_deleted"] = deleted
	return result, nil
}
