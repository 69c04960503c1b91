package compute

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memRecorder struct {
	mu   sync.Mutex
	jobs []*model.ComputationJob
}

func (r *memRecorder) Save(_ context.Context, job *model.ComputationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *memRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func scoreOutput(userID string, score int) model.JobOutput {
	return model.ReputationScoreOutput{Reputation: model.ReputationData{UserID: userID, Score: score}}
}

func waitJob(t *testing.T, m *Manager, id string) *model.ComputationJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func TestManager_SubmitIsNonBlocking(t *testing.T) {
	release := make(chan struct{})
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		<-release
		return scoreOutput("u1", 42), nil
	})
	m := NewManager(provider, Config{Timeout: time.Second})
	defer m.Shutdown(time.Second)

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{UserID: "u1"})
	require.NoError(t, err)

	job, ok := m.GetStatus(id)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, model.JobTypeReputationScore, job.Type)
	assert.Equal(t, 1, m.PendingCount())

	close(release)
	job = waitJob(t, m, id)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	out, ok := job.Outputs.(model.ReputationScoreOutput)
	require.True(t, ok)
	assert.Equal(t, 42, out.Reputation.Score)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManager_ProviderErrorFailsJob(t *testing.T) {
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		return nil, stderrors.New("enclave unavailable")
	})
	m := NewManager(provider, Config{})
	defer m.Shutdown(time.Second)

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{UserID: "u1"})
	require.NoError(t, err)

	job := waitJob(t, m, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Nil(t, job.Outputs)
	assert.Contains(t, job.Error, "enclave unavailable")
	assert.NotNil(t, job.CompletedAt)
}

func TestManager_PanicIsCaptured(t *testing.T) {
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		panic("boom")
	})
	m := NewManager(provider, Config{})
	defer m.Shutdown(time.Second)

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{})
	require.NoError(t, err)

	job := waitJob(t, m, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "COMPUTATION_FAILED")
	assert.Contains(t, job.Error, "boom")
}

func TestManager_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		<-release
		return scoreOutput("u1", 1), nil
	})
	m := NewManager(provider, Config{Timeout: 20 * time.Millisecond})

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{})
	require.NoError(t, err)

	job := waitJob(t, m, id)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "COMPUTATION_TIMEOUT")
}

func TestManager_MismatchedOutputFails(t *testing.T) {
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		return model.TandaVerificationOutput{}, nil
	})
	m := NewManager(provider, Config{})
	defer m.Shutdown(time.Second)

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, waitJob(t, m, id).Status)
}

func TestManager_ExecutesEachJobOnce(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[string]int)
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		uid := in.(model.ReputationScoreInput).UserID
		mu.Lock()
		calls[uid]++
		mu.Unlock()
		return scoreOutput(uid, 10), nil
	})
	rec := &memRecorder{}
	m := NewManager(provider, Config{MaxConcurrent: 4}, WithRecorder(rec))

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Submit(context.Background(), model.ReputationScoreInput{UserID: fmt.Sprintf("u%d", i)})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, model.JobStatusCompleted, waitJob(t, m, id).Status)
	}
	m.Shutdown(time.Second)

	assert.Len(t, calls, n)
	for uid, c := range calls {
		assert.Equal(t, 1, c, uid)
	}
	assert.Equal(t, n, rec.Len())
}

func TestManager_TerminalSnapshotsAreStable(t *testing.T) {
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		return scoreOutput("u1", 7), nil
	})
	m := NewManager(provider, Config{})
	defer m.Shutdown(time.Second)

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{UserID: "u1"})
	require.NoError(t, err)
	first := waitJob(t, m, id)

	// 修改返回的副本不影响登记表
	first.Status = model.JobStatusPending
	second, ok := m.GetStatus(id)
	require.True(t, ok)
	third, _ := m.GetStatus(id)
	assert.Equal(t, model.JobStatusCompleted, second.Status)
	assert.Equal(t, second, third)
}

func TestManager_ListAllInCreationOrder(t *testing.T) {
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		return scoreOutput("", 0), nil
	})
	seq := 0
	m := NewManager(provider, Config{}, WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("job-%03d", 100-seq)
	}))
	defer m.Shutdown(time.Second)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := m.Submit(context.Background(), model.ReputationScoreInput{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	jobs := m.ListAll()
	require.Len(t, jobs, 5)
	for i, job := range jobs {
		assert.Equal(t, ids[i], job.ID)
	}
}

func TestManager_UnknownJob(t *testing.T) {
	m := NewManager(FuncProvider(nil), Config{})
	defer m.Shutdown(time.Second)

	_, ok := m.GetStatus("missing")
	assert.False(t, ok)

	_, err := m.Wait(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestManager_ReapStaleNeverReverts(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	release := make(chan struct{})
	var executed atomic.Bool
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		<-release
		executed.Store(true)
		return scoreOutput("u1", 99), nil
	})
	m := NewManager(provider, Config{Timeout: time.Minute}, WithClock(clock.Now))

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 0, m.ReapStale(30*time.Second))
	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, m.ReapStale(30*time.Second))

	close(release)
	m.Shutdown(time.Second)
	assert.True(t, executed.Load())

	job, ok := m.GetStatus(id)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Nil(t, job.Outputs)
}

func TestManager_EvictTerminalJobs(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	provider := FuncProvider(func(ctx context.Context, in model.JobInput) (model.JobOutput, error) {
		return scoreOutput("", 0), nil
	})
	m := NewManager(provider, Config{}, WithClock(clock.Now))
	defer m.Shutdown(time.Second)

	id, err := m.Submit(context.Background(), model.ReputationScoreInput{})
	require.NoError(t, err)
	waitJob(t, m, id)

	assert.Equal(t, 0, m.Evict(time.Hour))
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, m.Evict(time.Hour))

	_, ok := m.GetStatus(id)
	assert.False(t, ok)
}

func TestManager_SubmitAfterShutdown(t *testing.T) {
	m := NewManager(FuncProvider(nil), Config{})
	m.Shutdown(time.Second)

	_, err := m.Submit(context.Background(), model.ReputationScoreInput{})
	assert.True(t, errors.Is(err, errors.ErrManagerClosed))

	_, err = NewManager(FuncProvider(nil), Config{}).Submit(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedJobType))
}
