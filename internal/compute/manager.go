package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-ubi/internal/metrics"
	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

// JobRecorder 持久化任务终态快照
type JobRecorder interface {
	Save(ctx context.Context, job *model.ComputationJob) error
}

// Config 任务管理器配置
type Config struct {
	// Timeout 单任务超时, 超时后任务标记为 failed
	Timeout       time.Duration
	MaxConcurrent int
}

type entry struct {
	job  model.ComputationJob
	seq  uint64
	done chan struct{}
}

// Manager 计算任务管理器
// 任务登记表由 mu 保护; 每个任务只由执行它的 worker 写入终态
type Manager struct {
	provider Provider
	recorder JobRecorder
	timeout  time.Duration

	mu     sync.RWMutex
	jobs   map[string]*entry
	seq    uint64
	closed bool

	running chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	now   func() time.Time
	newID func() string
}

// Option 管理器选项
type Option func(*Manager)

// WithRecorder 终态任务持久化
func WithRecorder(r JobRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithClock 指定时钟 (测试用)
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator 指定任务 ID 生成器
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager 创建任务管理器
func NewManager(provider Provider, cfg Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	m := &Manager{
		provider: provider,
		timeout:  timeout,
		jobs:     make(map[string]*entry),
		running:  make(chan struct{}, maxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		newID:    func() string { return "job_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit 登记任务并异步执行, 立即返回任务 ID
func (m *Manager) Submit(ctx context.Context, input model.JobInput) (string, error) {
	if input == nil {
		return "", errors.ErrUnsupportedJobType
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", errors.ErrManagerClosed
	}
	id := m.newID()
	if _, exists := m.jobs[id]; exists {
		m.mu.Unlock()
		return "", errors.ErrConflict.WithDetail("job_id", id)
	}
	m.seq++
	m.jobs[id] = &entry{
		job: model.ComputationJob{
			ID:        id,
			Type:      input.JobType(),
			Inputs:    input,
			Status:    model.JobStatusPending,
			CreatedAt: m.now(),
		},
		seq:  m.seq,
		done: make(chan struct{}),
	}
	m.wg.Add(1)
	pending := m.pendingLocked()
	m.mu.Unlock()

	metrics.SetPendingComputations(pending)
	go m.run(id, input)

	logger.Debug("computation submitted",
		zap.String("job_id", id),
		zap.String("type", string(input.JobType())),
		zap.String("provider", m.provider.Name()))

	return id, nil
}

type execResult struct {
	out model.JobOutput
	err error
}

// run 执行任务, 每个任务只执行一次
func (m *Manager) run(id string, input model.JobInput) {
	defer m.wg.Done()

	select {
	case m.running <- struct{}{}:
		defer func() { <-m.running }()
	case <-m.ctx.Done():
		m.finish(id, nil, errors.ErrManagerClosed)
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- execResult{err: errors.Wrap(errors.ErrComputationFailed, fmt.Errorf("panic: %v", r))}
			}
		}()
		out, err := m.provider.Execute(ctx, input)
		resultCh <- execResult{out: out, err: err}
	}()

	var res execResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		if m.ctx.Err() != nil {
			res.err = errors.ErrManagerClosed
		} else {
			res.err = errors.ErrComputationTimeout.WithDetail("timeout", m.timeout.String())
		}
	}

	if res.err == nil && res.out == nil {
		res.err = errors.ErrComputationFailed.WithMessage("empty computation output")
	}
	if res.err == nil && res.out.JobType() != input.JobType() {
		res.err = errors.ErrComputationFailed.WithDetail("output_type", string(res.out.JobType()))
	}

	if m.finish(id, res.out, res.err) {
		status := model.JobStatusCompleted
		if res.err != nil {
			status = model.JobStatusFailed
		}
		metrics.RecordComputation(string(input.JobType()), string(status), time.Since(start))
	}
}

// finish 写入终态, 已是终态时不做任何修改
func (m *Manager) finish(id string, out model.JobOutput, err error) bool {
	m.mu.Lock()
	e, ok := m.jobs[id]
	if !ok || e.job.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	completedAt := m.now()
	e.job.CompletedAt = &completedAt
	if err != nil {
		e.job.Status = model.JobStatusFailed
		e.job.Outputs = nil
		e.job.Error = err.Error()
	} else {
		e.job.Status = model.JobStatusCompleted
		e.job.Outputs = out
	}
	snapshot := e.job
	close(e.done)
	pending := m.pendingLocked()
	m.mu.Unlock()

	metrics.SetPendingComputations(pending)

	if err != nil {
		logger.Warn("computation failed",
			zap.String("job_id", id),
			zap.String("type", string(snapshot.Type)),
			zap.Error(err))
	} else {
		logger.Debug("computation completed",
			zap.String("job_id", id),
			zap.String("type", string(snapshot.Type)))
	}

	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := m.recorder.Save(ctx, &snapshot); rerr != nil {
			logger.Error("failed to record computation",
				zap.String("job_id", id),
				zap.Error(rerr))
		}
	}
	return true
}

// GetStatus 返回任务快照, 不修改任务
func (m *Manager) GetStatus(id string) (*model.ComputationJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return copyJob(&e.job), true
}

// Wait 等待任务进入终态
func (m *Manager) Wait(ctx context.Context, id string) (*model.ComputationJob, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.ErrJobNotFound.WithDetail("job_id", id)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	job, ok := m.GetStatus(id)
	if !ok {
		return nil, errors.ErrJobNotFound.WithDetail("job_id", id)
	}
	return job, nil
}

// ListAll 按创建顺序列出全部任务
func (m *Manager) ListAll() []*model.ComputationJob {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	jobs := make([]*model.ComputationJob, len(entries))
	for i, e := range entries {
		jobs[i] = copyJob(&e.job)
	}
	m.mu.RUnlock()
	return jobs
}

// PendingCount 未完成任务数
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingLocked()
}

// ReapStale 将创建时间早于 olderThan 仍未完成的任务标记为超时失败
func (m *Manager) ReapStale(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)

	m.mu.RLock()
	var stale []string
	for id, e := range m.jobs {
		if !e.job.Status.IsTerminal() && e.job.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	reaped := 0
	for _, id := range stale {
		if m.finish(id, nil, errors.ErrComputationTimeout.WithDetail("reaped", "stale")) {
			reaped++
		}
	}
	return reaped
}

// Evict 从登记表移除完成时间早于 retention 的终态任务
func (m *Manager) Evict(retention time.Duration) int {
	cutoff := m.now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.jobs {
		if e.job.Status.IsTerminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			evicted++
		}
	}
	return evicted
}

// Shutdown 停止接受新任务并等待执行中的任务, 超时后返回
func (m *Manager) Shutdown(timeout time.Duration) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("computation manager shutdown complete")
	case <-time.After(timeout):
		m.cancel()
		logger.Warn("computation manager shutdown timeout",
			zap.Int("pending_jobs", m.PendingCount()))
	}
	m.cancel()
}

func (m *Manager) pendingLocked() int {
	n := 0
	for _, e := range m.jobs {
		if !e.job.Status.IsTerminal() {
			n++
		}
	}
	return n
}

func copyJob(j *model.ComputationJob) *model.ComputationJob {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
