package worker

import (
	"context"

	"calsync_server/adapter/out/messaging"
	"calsync_server/pkg/logger"
)

// Handler routes stream messages to processors.
type Handler struct {
	calendarProcessor *CalendarProcessor
}

func NewHandler(calendarProcessor *CalendarProcessor) *Handler {
	return &Handler{calendarProcessor: calendarProcessor}
}

// Handle implements messaging.JobHandler.
func (h *Handler) Handle(ctx context.Context, stream string, data []byte) error {
	switch stream {
	case messaging.StreamCalendarFollowUp:
		return h.calendarProcessor.Process(ctx, stream, data)
	default:
		logger.Warn("[Handler.Handle] unknown stream: %s", stream)
		return nil
	}
}

var _ messaging.JobHandler = (*Handler)(nil)
