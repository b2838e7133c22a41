package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// =============================================================================
// go-pkgz/pool 기반 follow-up Worker Pool
// =============================================================================

// JobRunner executes one follow-up job.
type JobRunner interface {
	Run(ctx context.Context, job *domain.CalendarFollowUpJob) (*domain.SyncResult, error)
}

// ErrPoolStopped is returned by Execute when the pool is not running.
var ErrPoolStopped = errors.New("worker pool is not running")

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int                       // 동시 실행 워커 수
	WorkerChanSize   int                       // 워커 채널 버퍼 크기
	JobTimeout       time.Duration             // 작업 타임아웃
	JobTimeoutByType map[JobType]time.Duration // 작업 유형별 타임아웃
	MaxAttempts      int                       // in-process 재시도 포함 최대 시도 횟수
	BaseBackoff      time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		WorkerChanSize: 100,
		JobTimeout:     60 * time.Second,
		MaxAttempts:    2,
		BaseBackoff:    time.Second,
		JobTimeoutByType: map[JobType]time.Duration{
			domain.FollowUpSync:         3 * time.Minute, // 전체 동기화는 오래 걸릴 수 있음
			domain.FollowUpDeletion:     2 * time.Minute,
			domain.FollowUpRemoteDelete: 30 * time.Second,
			domain.FollowUpRemoteUpdate: 30 * time.Second,
		},
	}
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed  int64 `json:"jobs_processed"`
	JobsFailed     int64 `json:"jobs_failed"`
	JobsRetried    int64 `json:"jobs_retried"`
	AvgProcessTime int64 `json:"avg_process_ms"`
	Workers        int   `json:"workers"`
	InFlight       int32 `json:"in_flight"`
}

// Pool runs follow-up jobs on a fixed go-pkgz/pool worker group.
type Pool struct {
	runner JobRunner
	config *PoolConfig

	group *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	started bool
	mu      sync.Mutex
}

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	err := w.pool.processJob(ctx, msg)
	if msg.done != nil {
		msg.done <- err
	}
	return err
}

// NewPool creates a new worker pool.
func NewPool(runner JobRunner, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		runner:  runner,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		metrics: &PoolMetrics{Workers: config.Workers},
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker group.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	// Batch size 0: Execute waits on each job, so a job must reach a worker
	// as soon as it is submitted instead of sitting in the batch accumulator.
	group := pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithBatchSize(0).
		WithContinueOnError()
	if err := group.Go(p.ctx); err != nil {
		return err
	}
	p.group = group
	p.started = true

	go p.metricsReporter()

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("chan_size", p.config.WorkerChanSize).
		Msg("worker pool started")
	return nil
}

// Stop drains submitted jobs and stops the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	group := p.group
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := group.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing worker pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Execute submits msg and waits for its result. The stream consumer acks
// based on the returned error.
func (p *Pool) Execute(ctx context.Context, msg *Message) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	group := p.group
	msg.done = make(chan error, 1)
	atomic.AddInt32(&p.metrics.InFlight, 1)
	group.Submit(msg)
	p.mu.Unlock()

	select {
	case err := <-msg.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) jobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

// processJob runs one message, retrying transient failures in-process with
// exponential backoff and jitter. Permanent errors are returned immediately.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.InFlight, -1)

	var err error
	for {
		msg.Attempts++
		err = p.runOnce(ctx, msg)
		if err == nil || apperr.IsPermanent(err) || msg.Attempts >= p.config.MaxAttempts || ctx.Err() != nil {
			break
		}

		atomic.AddInt64(&p.metrics.JobsRetried, 1)
		base := p.config.BaseBackoff * time.Duration(1<<(msg.Attempts-1))
		jitter := time.Duration(rand.Intn(500)) * time.Millisecond
		p.log.Warn().
			Err(err).
			Str("job_id", msg.ID).
			Str("job_type", string(msg.Type())).
			Int("attempt", msg.Attempts).
			Dur("backoff", base+jitter).
			Msg("job failed, retrying")

		timer := time.NewTimer(base + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		case <-timer.C:
			continue
		}
		break
	}

	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err != nil {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		p.log.Error().
			Err(err).
			Str("job_id", msg.ID).
			Str("job_type", string(msg.Type())).
			Int("attempts", msg.Attempts).
			Bool("permanent", apperr.IsPermanent(err)).
			Msg("job processing failed")
		return err
	}

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	return nil
}

func (p *Pool) runOnce(ctx context.Context, msg *Message) error {
	timeout := p.jobTimeout(msg.Type())
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := p.runner.Run(jobCtx, msg.Job)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		p.log.Warn().
			Str("job_id", msg.ID).
			Str("job_type", string(msg.Type())).
			Dur("timeout", timeout).
			Msg("job timed out")
		return apperr.Timeout(string(msg.Type())).WithError(err)
	}
	return err
}

// updateAvgProcessTime keeps a simple moving average.
func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

// metricsReporter periodically logs metrics.
func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			m := p.GetMetrics()
			p.log.Info().
				Int64("processed", m.JobsProcessed).
				Int64("failed", m.JobsFailed).
				Int64("retried", m.JobsRetried).
				Int64("avg_process_ms", m.AvgProcessTime).
				Int32("in_flight", m.InFlight).
				Msg("worker pool metrics")
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		Workers:        p.config.Workers,
		InFlight:       atomic.LoadInt32(&p.metrics.InFlight),
	}
}
