package worker

import (
	"context"
	"time"

	"calsync_server/pkg/logger"
)

// =============================================================================
// WatchRenewScheduler - Google Calendar push 채널 갱신 스케줄러
// =============================================================================
//
// 채널은 만료 시각이 있으므로 renewBefore 안에 만료되는 채널을 다시 등록합니다.

// WatchRenewer re-registers expiring push channels.
type WatchRenewer interface {
	RenewExpiring(ctx context.Context, within time.Duration, limit int) (int, error)
}

const watchRenewBatchLimit = 200

type WatchRenewScheduler struct {
	renewer       WatchRenewer
	renewBefore   time.Duration
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWatchRenewScheduler creates a new watch renew scheduler.
func NewWatchRenewScheduler(renewer WatchRenewer, renewBefore time.Duration) *WatchRenewScheduler {
	if renewBefore <= 0 {
		renewBefore = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WatchRenewScheduler{
		renewer:       renewer,
		renewBefore:   renewBefore,
		checkInterval: 1 * time.Hour, // 1시간마다 체크
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start starts the watch renew scheduler.
func (s *WatchRenewScheduler) Start() {
	logger.Info("[WatchRenewScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

// Stop stops the watch renew scheduler.
func (s *WatchRenewScheduler) Stop() {
	logger.Info("[WatchRenewScheduler] Stopping...")
	s.cancel()
}

func (s *WatchRenewScheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// 시작 시 즉시 한 번 체크
	s.renewExpiringWatches()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[WatchRenewScheduler] Stopped")
			return
		case <-ticker.C:
			s.renewExpiringWatches()
		}
	}
}

func (s *WatchRenewScheduler) renewExpiringWatches() int {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	renewed, err := s.renewer.RenewExpiring(ctx, s.renewBefore, watchRenewBatchLimit)
	if err != nil {
		logger.Error("[WatchRenewScheduler] Failed to renew watches: %v", err)
		return 0
	}
	if renewed > 0 {
		logger.Info("[WatchRenewScheduler] Renewed %d watches", renewed)
	}
	return renewed
}
