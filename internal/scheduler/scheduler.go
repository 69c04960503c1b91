package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-ubi/internal/metrics"
	"github.com/eidos-exchange/eidos-ubi/pkg/lock"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

const jobLockPrefix = "ubi:job:"

// 执行状态
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Scheduler 维护任务调度器
type Scheduler struct {
	cron       *cron.Cron
	locker     lock.Locker
	jobs       map[string]Job
	jobConfigs map[string]JobConfig
	lastRuns   map[string]*JobStatus
	mu         sync.RWMutex
	running    chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// JobConfig 任务配置
type JobConfig struct {
	Cron    string
	Enabled bool
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	MaxConcurrentJobs int
	// Locker 为空时使用进程内锁
	Locker lock.Locker
}

// NewScheduler 创建调度器
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		locker:     locker,
		jobs:       make(map[string]Job),
		jobConfigs: make(map[string]JobConfig),
		lastRuns:   make(map[string]*JobStatus),
		running:    make(chan struct{}, maxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterJob 注册任务
func (s *Scheduler) RegisterJob(job Job, config JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	s.jobs[job.Name()] = job
	s.jobConfigs[job.Name()] = config

	if !config.Enabled {
		logger.Info("job registered but disabled", zap.String("job", job.Name()))
		return nil
	}

	_, err := s.cron.AddFunc(config.Cron, func() {
		s.executeJob(job)
	})
	if err != nil {
		delete(s.jobs, job.Name())
		delete(s.jobConfigs, job.Name())
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	logger.Info("job registered",
		zap.String("job", job.Name()),
		zap.String("cron", config.Cron))
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started")
}

// Stop 停止调度器, 等待手动触发的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

// TriggerJob 手动触发任务
func (s *Scheduler) TriggerJob(jobName string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJob(job)
	}()
	return nil
}

// executeJob 执行任务
func (s *Scheduler) executeJob(job Job) {
	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		logger.Warn("max concurrent jobs reached, skipping", zap.String("job", job.Name()))
		s.recordRun(job.Name(), StatusSkipped, time.Now(), nil, errors.New("max concurrent jobs reached"))
		return
	}

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	startTime := time.Now()
	var result *JobResult
	run := func(ctx context.Context) error {
		logger.Info("starting job", zap.String("job", job.Name()))
		var err error
		result, err = job.Execute(ctx)
		return err
	}

	var err error
	if job.RequiresLock() {
		err = s.locker.WithLock(ctx, jobLockPrefix+job.Name(), run)
		if errors.Is(err, lock.ErrLockAcquireFailed) {
			logger.Debug("job is already running on another instance", zap.String("job", job.Name()))
			s.recordRun(job.Name(), StatusSkipped, startTime, nil, err)
			return
		}
	} else {
		err = run(ctx)
	}

	duration := time.Since(startTime)
	if err != nil {
		logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", duration),
			zap.Error(err))
		s.recordRun(job.Name(), StatusFailed, startTime, result, err)
		return
	}

	fields := []zap.Field{
		zap.String("job", job.Name()),
		zap.Duration("duration", duration),
	}
	if result != nil {
		fields = append(fields,
			zap.Int("processed", result.ProcessedCount),
			zap.Int("affected", result.AffectedCount),
			zap.Int("errors", result.ErrorCount))
	}
	logger.Info("job completed", fields...)
	s.recordRun(job.Name(), StatusSuccess, startTime, result, nil)
}

// recordRun 记录最近一次执行
func (s *Scheduler) recordRun(jobName, status string, startedAt time.Time, result *JobResult, runErr error) {
	metrics.RecordMaintenance(jobName, status)

	finishedAt := time.Now()
	run := &JobStatus{
		Name:           jobName,
		LastStatus:     status,
		LastStartedAt:  startedAt,
		LastFinishedAt: finishedAt,
		LastDuration:   finishedAt.Sub(startedAt),
		LastResult:     result,
	}
	if runErr != nil {
		run.LastError = runErr.Error()
	}

	s.mu.Lock()
	if prev, ok := s.lastRuns[jobName]; ok {
		run.Runs = prev.Runs
	}
	run.Runs++
	s.lastRuns[jobName] = run
	s.mu.Unlock()
}

// GetJobStatus 获取任务状态
func (s *Scheduler) GetJobStatus(jobName string) (*JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobName]
	if !exists {
		return nil, fmt.Errorf("job %s not found", jobName)
	}
	config := s.jobConfigs[jobName]

	status := &JobStatus{Name: jobName}
	if last, ok := s.lastRuns[jobName]; ok {
		*status = *last
	}
	status.Enabled = config.Enabled
	status.Cron = config.Cron
	status.Timeout = job.Timeout()
	return status, nil
}

// ListJobStatus 列出所有任务状态, 按名称排序
func (s *Scheduler) ListJobStatus() []*JobStatus {
	s.mu.RLock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	statuses := make([]*JobStatus, 0, len(names))
	for _, name := range names {
		status, err := s.GetJobStatus(name)
		if err != nil {
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// JobStatus 任务状态
type JobStatus struct {
	Name           string
	Enabled        bool
	Cron           string
	Timeout        time.Duration
	Runs           int
	LastStatus     string
	LastStartedAt  time.Time
	LastFinishedAt time.Time
	LastDuration   time.Duration
	LastError      string
	LastResult     *JobResult
}
