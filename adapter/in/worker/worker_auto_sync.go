package worker

import (
	"context"
	"sync/atomic"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/logger"
)

// =============================================================================
// AutoSyncScheduler - 주기적 배치 동기화
// =============================================================================
//
// AUTO_SYNC_ENABLED일 때 일정 간격으로 auto_sync 연동들을 배치 동기화합니다.
// 이전 배치가 끝나지 않았으면 해당 tick은 건너뜁니다.

// BatchRunner runs one bounded batch sync.
type BatchRunner interface {
	RunBatch(ctx context.Context, maxUsers int) (*domain.BatchResult, error)
}

type AutoSyncScheduler struct {
	runner        BatchRunner
	maxUsers      int
	checkInterval time.Duration
	running       atomic.Bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewAutoSyncScheduler creates a new auto-sync scheduler.
func NewAutoSyncScheduler(runner BatchRunner, interval time.Duration, maxUsers int) *AutoSyncScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoSyncScheduler{
		runner:        runner,
		maxUsers:      maxUsers,
		checkInterval: interval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the scheduler.
func (s *AutoSyncScheduler) Start() {
	logger.Info("[AutoSyncScheduler] Starting with interval %v, max users %d", s.checkInterval, s.maxUsers)
	go s.run()
}

// Stop stops the scheduler.
func (s *AutoSyncScheduler) Stop() {
	logger.Info("[AutoSyncScheduler] Stopping...")
	s.cancel()
}

func (s *AutoSyncScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[AutoSyncScheduler] Stopped")
			return
		case <-ticker.C:
			s.runBatch()
		}
	}
}

// runBatch returns false when a batch was already in progress.
func (s *AutoSyncScheduler) runBatch() bool {
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("[AutoSyncScheduler] Previous batch still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	res, err := s.runner.RunBatch(s.ctx, s.maxUsers)
	if err != nil {
		logger.Error("[AutoSyncScheduler] Batch failed: %v", err)
		return true
	}
	logger.Info("[AutoSyncScheduler] Batch done: processed=%d succeeded=%d errors=%d timed_out=%v",
		res.Processed, res.Succeeded, len(res.Errors), res.TimedOut)
	return true
}
