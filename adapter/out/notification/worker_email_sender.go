// Package notification implements the outbound email sink.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/logger"

	"github.com/goccy/go-json"
)

// RelaySender posts messages as JSON to an HTTP mail relay.
type RelaySender struct {
	client *http.Client
	url    string
	from   string
}

func NewRelaySender(client *http.Client, url, from string) *RelaySender {
	if client == nil {
		client = http.DefaultClient
	}
	return &RelaySender{client: client, url: url, from: from}
}

type relayRequest struct {
	From string `json:"from"`
	domain.EmailMessage
}

// Send delivers msg; any non-2xx relay response is an error.
func (s *RelaySender) Send(ctx context.Context, msg domain.EmailMessage) error {
	body, err := json.Marshal(relayRequest{From: s.from, EmailMessage: msg})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email relay returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// LogSender writes messages to the log. Used when no relay is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg domain.EmailMessage) error {
	logger.WithField("to", msg.To).Info("[LogSender.Send] %s", msg.Subject)
	return nil
}

var (
	_ out.EmailSender = (*RelaySender)(nil)
	_ out.EmailSender = LogSender{}
)
