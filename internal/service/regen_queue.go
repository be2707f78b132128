package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/metrics"
	"github.com/user/reelrec/internal/model"
)

// JobKind 后台任务类型，数值大的覆盖数值小的
type JobKind int

const (
	// JobEnsure 登录时补齐缺失的推荐
	JobEnsure JobKind = iota
	// JobRegenerate 观影后重新生成
	JobRegenerate
)

func (k JobKind) String() string {
	switch k {
	case JobEnsure:
		return "ensure"
	case JobRegenerate:
		return "regenerate"
	default:
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
}

// JobResult 任务执行结果
type JobResult struct {
	UserID   int
	Kind     JobKind
	Err      error
	Duration time.Duration
}

// Regenerator 推荐生成器
type Regenerator interface {
	Generate(ctx context.Context, userID, topN int) ([]model.RecommendationItem, error)
	EnsureExist(ctx context.Context, userID int) (bool, error)
}

// Submitter 提交后台任务
type Submitter interface {
	Submit(userID int, kind JobKind) bool
}

// RegenQueueConfig 队列参数
type RegenQueueConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// OnResult 每个任务结束后调用，可为 nil
	OnResult func(JobResult)
}

// RegenQueue 有界推荐生成队列，同一用户排队中的任务合并为一个
type RegenQueue struct {
	runner Regenerator
	cfg    RegenQueueConfig
	jobs   chan int
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[int]JobKind
	closed  bool

	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewRegenQueue(runner Regenerator, cfg RegenQueueConfig) *RegenQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RegenQueue{
		runner:  runner,
		cfg:     cfg,
		jobs:    make(chan int, cfg.QueueSize),
		pending: make(map[int]JobKind),
		log:     logging.Component("regen_queue"),
	}
}

// Start 启动 worker，重复调用无效
func (q *RegenQueue) Start() {
	q.startOnce.Do(func() {
		for i := 0; i < q.cfg.Workers; i++ {
			q.wg.Add(1)
			go q.worker()
		}
		q.log.Info().Int("workers", q.cfg.Workers).Int("queue_size", q.cfg.QueueSize).Msg("推荐队列已启动")
	})
}

// Submit 提交任务，不阻塞；队列已满或已停止时返回 false
func (q *RegenQueue) Submit(userID int, kind JobKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if prev, ok := q.pending[userID]; ok {
		if kind > prev {
			q.pending[userID] = kind
		}
		metrics.RegenSubmissions.WithLabelValues("coalesced").Inc()
		return true
	}

	q.pending[userID] = kind
	select {
	case q.jobs <- userID:
		metrics.RegenSubmissions.WithLabelValues("queued").Inc()
		metrics.RegenQueueDepth.Inc()
		return true
	default:
		delete(q.pending, userID)
		metrics.RegenSubmissions.WithLabelValues("dropped").Inc()
		q.log.Warn().Int("user_id", userID).Str("kind", kind.String()).Msg("推荐队列已满，任务被丢弃")
		return false
	}
}

// Pending 排队中（未开始）的任务数
func (q *RegenQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop 停止接收任务并等待已排队任务完成
func (q *RegenQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *RegenQueue) worker() {
	defer q.wg.Done()
	for userID := range q.jobs {
		q.mu.Lock()
		kind := q.pending[userID]
		delete(q.pending, userID)
		q.mu.Unlock()
		metrics.RegenQueueDepth.Dec()

		q.run(userID, kind)
	}
}

func (q *RegenQueue) run(userID int, kind JobKind) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := q.execute(ctx, userID, kind)
	result := JobResult{UserID: userID, Kind: kind, Err: err, Duration: time.Since(start)}

	if err != nil {
		q.log.Error().Err(err).Int("user_id", userID).Str("kind", kind.String()).Msg("后台推荐生成失败")
	} else {
		q.log.Debug().Int("user_id", userID).Str("kind", kind.String()).Dur("elapsed", result.Duration).Msg("后台推荐任务完成")
	}

	if q.cfg.OnResult != nil {
		q.cfg.OnResult(result)
	}
}

func (q *RegenQueue) execute(ctx context.Context, userID int, kind JobKind) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("推荐任务发生恐慌: %v", r)
		}
	}()

	if kind == JobEnsure {
		_, err = q.runner.EnsureExist(ctx, userID)
		return err
	}
	_, err = q.runner.Generate(ctx, userID, 0)
	return err
}
