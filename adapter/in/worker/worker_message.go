package worker

import (
	"fmt"
	"time"

	"calsync_server/core/domain"

	"github.com/goccy/go-json"
)

// JobType is the follow-up kind carried by a message.
type JobType = domain.FollowUpKind

// Message is one follow-up job moving through the pool.
type Message struct {
	ID         string
	Stream     string
	Job        *domain.CalendarFollowUpJob
	Attempts   int
	ReceivedAt time.Time

	done chan error
}

// Type returns the job kind.
func (m *Message) Type() JobType {
	if m.Job == nil {
		return ""
	}
	return m.Job.Kind
}

// DecodeMessage parses a stream payload into a message. Jobs published
// without a kind default to a full sync.
func DecodeMessage(stream string, data []byte) (*Message, error) {
	var job domain.CalendarFollowUpJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode follow-up job: %w", err)
	}
	if job.Kind == "" {
		job.Kind = domain.FollowUpSync
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid follow-up job %s: %w", job.ID, err)
	}
	return &Message{
		ID:         job.ID,
		Stream:     stream,
		Job:        &job,
		ReceivedAt: time.Now(),
	}, nil
}
