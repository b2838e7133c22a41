package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"calsync_server/adapter/in/worker"
	"calsync_server/adapter/out/messaging"
	"calsync_server/config"
	"calsync_server/pkg/logger"

	"github.com/rs/zerolog"
)

const consumerGroup = "calsync-workers"

type Worker struct {
	pool                *worker.Pool
	consumer            *messaging.Consumer
	autoSyncScheduler   *worker.AutoSyncScheduler
	watchRenewScheduler *worker.WatchRenewScheduler
	deps                *Dependencies
	ctx                 context.Context
	cancel              context.CancelFunc
	stopped             chan struct{}
	wg                  sync.WaitGroup
	zlog                zerolog.Logger
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := logger.Z("worker")

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerCount > 0 {
		poolConfig.Workers = cfg.WorkerCount
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.WorkerChanSize = cfg.WorkerQueueSize
	}
	pool := worker.NewPool(deps.FollowUpService, poolConfig, zlog)

	handler := worker.NewHandler(worker.NewCalendarProcessor(pool))

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:    pool,
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		zlog:    zlog,
	}

	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:                consumerGroup,
		Consumer:             cfg.WorkerID,
		Streams:              []string{messaging.StreamCalendarFollowUp},
		Handler:              handler,
		Logger:               zlog,
		BatchSize:            cfg.ConsumerBatchSize,
		Block:                time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
		PendingCheckInterval: time.Duration(cfg.ConsumerPendingCheckSec) * time.Second,
		MaxRetries:           cfg.ConsumerMaxRetries,
	})

	if cfg.AutoSyncEnabled {
		w.autoSyncScheduler = worker.NewAutoSyncScheduler(deps.Orchestrator, cfg.AutoSyncInterval, cfg.AutoSyncMaxUsers)
	}
	if cfg.WebhookAddress() != "" {
		w.watchRenewScheduler = worker.NewWatchRenewScheduler(deps.WatchManager, cfg.WatchRenewBefore)
	} else {
		logger.Warn("PUBLIC_BASE_URL not set, push channels are not registered or renewed")
	}

	return w
}

// Start runs the worker until Stop is called.
func (w *Worker) Start() error {
	if err := w.pool.Start(); err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.zlog.Error().Err(err).Msg("stream consumer stopped")
		}
	}()

	if w.autoSyncScheduler != nil {
		w.autoSyncScheduler.Start()
	}
	if w.watchRenewScheduler != nil {
		w.watchRenewScheduler.Start()
	}

	w.zlog.Info().
		Bool("auto_sync", w.autoSyncScheduler != nil).
		Bool("watch_renew", w.watchRenewScheduler != nil).
		Msg("worker started")

	<-w.ctx.Done()
	<-w.stopped
	return nil
}

func (w *Worker) Stop() {
	if w.autoSyncScheduler != nil {
		w.autoSyncScheduler.Stop()
	}
	if w.watchRenewScheduler != nil {
		w.watchRenewScheduler.Stop()
	}

	// consumer first so no new jobs reach the pool
	w.cancel()
	w.wg.Wait()
	w.pool.Stop()
	close(w.stopped)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
