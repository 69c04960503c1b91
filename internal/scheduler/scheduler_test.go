package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-ubi/pkg/lock"
)

// mockJob 模拟任务
type mockJob struct {
	BaseJob
	executeFunc func(ctx context.Context) (*JobResult, error)
	execCount   int64
}

func newMockJob(name string, requiresLock bool, fn func(ctx context.Context) (*JobResult, error)) *mockJob {
	return &mockJob{
		BaseJob:     NewBaseJob(name, 5*time.Second, requiresLock),
		executeFunc: fn,
	}
}

func (j *mockJob) Execute(ctx context.Context) (*JobResult, error) {
	atomic.AddInt64(&j.execCount, 1)
	if j.executeFunc != nil {
		return j.executeFunc(ctx)
	}
	return &JobResult{ProcessedCount: 1}, nil
}

func (j *mockJob) count() int64 {
	return atomic.LoadInt64(&j.execCount)
}

func waitStatus(t *testing.T, s *Scheduler, name string, runs int) *JobStatus {
	t.Helper()
	var status *JobStatus
	require.Eventually(t, func() bool {
		st, err := s.GetJobStatus(name)
		if err != nil {
			return false
		}
		status = st
		return st.Runs >= runs
	}, 2*time.Second, 10*time.Millisecond)
	return status
}

func TestScheduler_RegisterJob(t *testing.T) {
	s := NewScheduler(&SchedulerConfig{})
	job := newMockJob("a", false, nil)

	require.NoError(t, s.RegisterJob(job, JobConfig{Cron: "*/1 * * * * *", Enabled: true}))
	assert.Error(t, s.RegisterJob(job, JobConfig{Cron: "*/1 * * * * *", Enabled: true}))

	// 非法 cron 不保留注册
	bad := newMockJob("bad", false, nil)
	assert.Error(t, s.RegisterJob(bad, JobConfig{Cron: "not a cron", Enabled: true}))
	_, err := s.GetJobStatus("bad")
	assert.Error(t, err)

	// 禁用任务只注册不调度
	require.NoError(t, s.RegisterJob(newMockJob("off", false, nil), JobConfig{Cron: "bogus", Enabled: false}))
	st, err := s.GetJobStatus("off")
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, 0, st.Runs)
}

func TestScheduler_TriggerJob(t *testing.T) {
	s := NewScheduler(&SchedulerConfig{})
	defer s.Stop()

	job := newMockJob("manual", false, func(ctx context.Context) (*JobResult, error) {
		return &JobResult{ProcessedCount: 3, AffectedCount: 2}, nil
	})
	require.NoError(t, s.RegisterJob(job, JobConfig{Enabled: false}))

	require.NoError(t, s.TriggerJob("manual"))
	st := waitStatus(t, s, "manual", 1)

	assert.Equal(t, StatusSuccess, st.LastStatus)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 2, st.LastResult.AffectedCount)
	assert.Equal(t, int64(1), job.count())

	assert.Error(t, s.TriggerJob("unknown"))
}

func TestScheduler_FailedJob(t *testing.T) {
	s := NewScheduler(&SchedulerConfig{})
	defer s.Stop()

	job := newMockJob("broken", false, func(ctx context.Context) (*JobResult, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, s.RegisterJob(job, JobConfig{Enabled: false}))
	require.NoError(t, s.TriggerJob("broken"))

	st := waitStatus(t, s, "broken", 1)
	assert.Equal(t, StatusFailed, st.LastStatus)
	assert.Equal(t, "boom", st.LastError)
}

func TestScheduler_CronRuns(t *testing.T) {
	s := NewScheduler(&SchedulerConfig{})
	job := newMockJob("tick", false, nil)
	require.NoError(t, s.RegisterJob(job, JobConfig{Cron: "*/1 * * * * *", Enabled: true}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_SkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	locker := lock.NewRedisLocker(rdb, lock.RedisLockerConfig{
		Expiration:    time.Minute,
		RetryInterval: time.Millisecond,
		MaxRetries:    1,
	})
	s := NewScheduler(&SchedulerConfig{Locker: locker})
	defer s.Stop()

	job := newMockJob("locked", true, nil)
	require.NoError(t, s.RegisterJob(job, JobConfig{Enabled: false}))

	// 另一实例持有锁
	require.NoError(t, mr.Set(jobLockPrefix+"locked", "other-instance"))
	require.NoError(t, s.TriggerJob("locked"))
	st := waitStatus(t, s, "locked", 1)
	assert.Equal(t, StatusSkipped, st.LastStatus)
	assert.Equal(t, int64(0), job.count())

	mr.Del(jobLockPrefix + "locked")
	require.NoError(t, s.TriggerJob("locked"))
	st = waitStatus(t, s, "locked", 2)
	assert.Equal(t, StatusSuccess, st.LastStatus)
	assert.Equal(t, int64(1), job.count())
	assert.False(t, mr.Exists(jobLockPrefix+"locked"))
}

func TestScheduler_MaxConcurrent(t *testing.T) {
	s := NewScheduler(&SchedulerConfig{MaxConcurrentJobs: 1})
	defer s.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	slow := newMockJob("slow", false, func(ctx context.Context) (*JobResult, error) {
		close(started)
		<-release
		return nil, nil
	})
	fast := newMockJob("fast", false, nil)
	require.NoError(t, s.RegisterJob(slow, JobConfig{}))
	require.NoError(t, s.RegisterJob(fast, JobConfig{}))

	require.NoError(t, s.TriggerJob("slow"))
	<-started
	require.NoError(t, s.TriggerJob("fast"))

	st := waitStatus(t, s, "fast", 1)
	assert.Equal(t, StatusSkipped, st.LastStatus)
	assert.Equal(t, int64(0), fast.count())
	close(release)

	statuses := s.ListJobStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "fast", statuses[0].Name)
}
