package worker

import (
	"context"
	"fmt"

	"calsync_server/adapter/out/messaging"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/logger"
)

// CalendarProcessor handles jobs from the calendar follow-up stream.
type CalendarProcessor struct {
	pool *Pool
}

// NewCalendarProcessor creates a new calendar processor.
func NewCalendarProcessor(pool *Pool) *CalendarProcessor {
	return &CalendarProcessor{pool: pool}
}

// Process decodes one stream payload and runs it on the pool. Malformed jobs
// and permanent failures are marked for the DLQ; anything else stays pending
// for the consumer's reclaim loop.
func (p *CalendarProcessor) Process(ctx context.Context, stream string, data []byte) error {
	msg, err := DecodeMessage(stream, data)
	if err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrDropMessage, err)
	}

	logger.Debug("[CalendarProcessor.Process] job=%s kind=%s user=%s", msg.ID, msg.Type(), msg.Job.UserID)

	if err := p.pool.Execute(ctx, msg); err != nil {
		if apperr.IsPermanent(err) {
			return fmt.Errorf("%w: %v", messaging.ErrDropMessage, err)
		}
		return err
	}
	return nil
}
