package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/reelrec/internal/model"
)

// fakeRegenerator 记录调用，可选择阻塞
type fakeRegenerator struct {
	mu     sync.Mutex
	calls  []submission
	block  chan struct{}
	err    error
	active int
	maxPar int
}

func (f *fakeRegenerator) do(userID int, kind JobKind) error {
	f.mu.Lock()
	f.calls = append(f.calls, submission{userID, kind})
	f.active++
	if f.active > f.maxPar {
		f.maxPar = f.active
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return f.err
}

func (f *fakeRegenerator) Generate(_ context.Context, userID, _ int) ([]model.RecommendationItem, error) {
	return nil, f.do(userID, JobRegenerate)
}

func (f *fakeRegenerator) EnsureExist(_ context.Context, userID int) (bool, error) {
	return false, f.do(userID, JobEnsure)
}

func (f *fakeRegenerator) Calls() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.calls...)
}

func collectResults(n int) (func(JobResult), <-chan JobResult) {
	ch := make(chan JobResult, n)
	return func(r JobResult) { ch <- r }, ch
}

func waitResult(t *testing.T, ch <-chan JobResult) JobResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job result")
		return JobResult{}
	}
}

func TestRegenQueue_CoalescesPendingJobs(t *testing.T) {
	fake := &fakeRegenerator{}
	onResult, results := collectResults(8)
	q := NewRegenQueue(fake, RegenQueueConfig{Workers: 1, QueueSize: 8, OnResult: onResult})

	// 未启动时任务只排队
	assert.True(t, q.Submit(1, JobEnsure))
	assert.True(t, q.Submit(1, JobRegenerate))
	assert.True(t, q.Submit(1, JobEnsure))
	assert.True(t, q.Submit(2, JobEnsure))
	assert.Equal(t, 2, q.Pending())

	q.Start()
	waitResult(t, results)
	waitResult(t, results)
	require.NoError(t, q.Stop(context.Background()))

	// ensure 被升级为 regenerate
	assert.ElementsMatch(t, []submission{{1, JobRegenerate}, {2, JobEnsure}}, fake.Calls())
}

func TestRegenQueue_DropsWhenFull(t *testing.T) {
	fake := &fakeRegenerator{}
	q := NewRegenQueue(fake, RegenQueueConfig{Workers: 1, QueueSize: 1})

	assert.True(t, q.Submit(1, JobRegenerate))
	assert.False(t, q.Submit(2, JobRegenerate))
	assert.Equal(t, 1, q.Pending())
}

func TestRegenQueue_FollowUpAfterRunningJob(t *testing.T) {
	fake := &fakeRegenerator{block: make(chan struct{})}
	onResult, results := collectResults(8)
	q := NewRegenQueue(fake, RegenQueueConfig{Workers: 1, QueueSize: 8, OnResult: onResult})
	q.Start()

	require.True(t, q.Submit(7, JobRegenerate))
	require.Eventually(t, func() bool { return len(fake.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// 运行中再触发三次，只排队一个后续任务
	for i := 0; i < 3; i++ {
		assert.True(t, q.Submit(7, JobRegenerate))
	}
	assert.Equal(t, 1, q.Pending())

	close(fake.block)
	waitResult(t, results)
	waitResult(t, results)
	require.NoError(t, q.Stop(context.Background()))

	assert.Len(t, fake.Calls(), 2)
}

func TestRegenQueue_ReportsErrors(t *testing.T) {
	boom := errors.New("db down")
	fake := &fakeRegenerator{err: boom}
	onResult, results := collectResults(1)
	q := NewRegenQueue(fake, RegenQueueConfig{Workers: 1, QueueSize: 1, OnResult: onResult})
	q.Start()

	require.True(t, q.Submit(3, JobRegenerate))
	r := waitResult(t, results)
	assert.Equal(t, 3, r.UserID)
	assert.Equal(t, JobRegenerate, r.Kind)
	assert.ErrorIs(t, r.Err, boom)

	require.NoError(t, q.Stop(context.Background()))
}

func TestRegenQueue_StopRejectsSubmissions(t *testing.T) {
	q := NewRegenQueue(&fakeRegenerator{}, RegenQueueConfig{Workers: 2, QueueSize: 4})
	q.Start()
	require.NoError(t, q.Stop(context.Background()))
	// 重复 Stop 安全
	require.NoError(t, q.Stop(context.Background()))

	assert.False(t, q.Submit(1, JobRegenerate))
}

func TestRegenQueue_StopHonoursContext(t *testing.T) {
	fake := &fakeRegenerator{block: make(chan struct{})}
	q := NewRegenQueue(fake, RegenQueueConfig{Workers: 1, QueueSize: 1})
	q.Start()
	require.True(t, q.Submit(1, JobRegenerate))
	require.Eventually(t, func() bool { return len(fake.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(ctx), context.DeadlineExceeded)

	close(fake.block)
}

func TestRegenQueue_WithRecommendationService(t *testing.T) {
	env := newTestEnv(t)
	env.movie(t, "A", vec(1, 0))
	env.movie(t, "B", vec(0, 1))
	u := env.user(t, "gus")

	onResult, results := collectResults(1)
	q := NewRegenQueue(env.recs, RegenQueueConfig{Workers: 1, QueueSize: 4, OnResult: onResult})
	q.Start()
	defer q.Stop(context.Background())

	require.True(t, q.Submit(u.ID, JobEnsure))
	r := waitResult(t, results)
	require.NoError(t, r.Err)

	items, err := env.recs.GetForUser(context.Background(), u.ID, 5)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
