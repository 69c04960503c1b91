package scheduler

import (
	"context"
	"time"
)

// Job 维护任务接口
type Job interface {
	// Name 任务名称
	Name() string
	// Execute 执行任务
	Execute(ctx context.Context) (*JobResult, error)
	// Timeout 任务超时时间
	Timeout() time.Duration
	// RequiresLock 是否需要跨实例互斥
	RequiresLock() bool
}

// JobResult 任务执行结果
type JobResult struct {
	ProcessedCount int
	AffectedCount  int
	ErrorCount     int
	Details        map[string]interface{}
}

// BaseJob 基础任务实现
type BaseJob struct {
	name         string
	timeout      time.Duration
	requiresLock bool
}

// NewBaseJob 创建基础任务
func NewBaseJob(name string, timeout time.Duration, requiresLock bool) BaseJob {
	return BaseJob{
		name:         name,
		timeout:      timeout,
		requiresLock: requiresLock,
	}
}

// Name 任务名称
func (j BaseJob) Name() string {
	return j.name
}

// Timeout 任务超时时间
func (j BaseJob) Timeout() time.Duration {
	return j.timeout
}

// RequiresLock 是否需要跨实例互斥
func (j BaseJob) RequiresLock() bool {
	return j.requiresLock
}

// 任务名称
const (
	JobNameReapStale         = "reap-stale-computations"
	JobNameEvictJobs         = "evict-computations"
	JobNameSettlementBacklog = "settlement-backlog"
)

// DefaultJobConfigs 默认任务配置
var DefaultJobConfigs = map[string]struct {
	Cron         string
	Timeout      time.Duration
	RequiresLock bool
}{
	// 内存注册表按实例维护, 不加锁
	JobNameReapStale: {
		Cron:    "*/30 * * * * *",
		Timeout: 10 * time.Second,
	},
	JobNameEvictJobs: {
		Cron:         "0 */10 * * * *",
		Timeout:      time.Minute,
		RequiresLock: false,
	},
	// 重发结算事件只能由一个实例执行
	JobNameSettlementBacklog: {
		Cron:         "0 */5 * * * *",
		Timeout:      2 * time.Minute,
		RequiresLock: true,
	},
}
