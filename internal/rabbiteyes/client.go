// SPDX-License-Identifier: MIT

// Package rabbiteyes forwards session lifecycle and command events to an
// external dashboard endpoint. Delivery is fire-and-forget from the
// session's point of view: sends run on their own goroutine and retry
// through gateway hiccups.
package rabbiteyes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
)

// Event is the wire payload for one notification.
type Event struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId"`
	TestID    string `json:"testId"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
	Command   []string `json:"command,omitempty"`
	Index     *int     `json:"commandIndex,omitempty"`
	Success   *bool    `json:"success,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

// Client posts events to the configured endpoint. A zero URL disables it.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
	logger zerolog.Logger

	attempts uint
	baseWait time.Duration
}

// New returns a client, disabled when url is empty.
func New(url, apiKey string) *Client {
	return &Client{
		url:      url,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   log.WithComponent("rabbiteyes"),
		attempts: 10,
		baseWait: 5 * time.Second,
	}
}

// Enabled reports whether sends will happen.
func (c *Client) Enabled() bool { return c != nil && c.url != "" }

// retryableStatus marks gateway-side failures worth retrying. Anything else
// is either success or a permanent rejection.
func retryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable
}

// Send posts one event, retrying with doubling delay (5s, 10s, 20s, ...) on
// 502/503 for up to 10 attempts.
func (c *Client) Send(ctx context.Context, evt Event) error {
	if !c.Enabled() {
		return nil
	}
	if evt.Timestamp == "" {
		evt.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			defer func() {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			statusErr := fmt.Errorf("endpoint returned %s", resp.Status)
			if retryableStatus(resp.StatusCode) {
				return statusErr
			}
			return retry.Unrecoverable(statusErr)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.baseWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Uint("attempt", n+1).Err(err).Str("type", evt.Type).Msg("event delivery retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("send %s event: %w", evt.Type, err)
	}
	return nil
}

// Notify sends asynchronously and logs failures. The session never blocks on
// the dashboard.
func (c *Client) Notify(ctx context.Context, evt Event) {
	if !c.Enabled() {
		return
	}
	go func() {
		if err := c.Send(ctx, evt); err != nil {
			c.logger.Error().Err(err).Str("type", evt.Type).Msg("event delivery failed")
		}
	}()
}
