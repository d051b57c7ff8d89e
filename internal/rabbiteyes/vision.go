// SPDX-License-Identifier: MIT

package rabbiteyes

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/log"
)

// Vision asks a multimodal LLM endpoint questions about screenshots. Same
// retry policy as the event client: doubling delay, gateway errors only.
type Vision struct {
	url    string
	apiKey string
	http   *http.Client
	logger zerolog.Logger

	attempts uint
	baseWait time.Duration
}

// NewVision returns a client, nil-safe disabled when url is empty.
func NewVision(url, apiKey string) *Vision {
	return &Vision{
		url:      url,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 2 * time.Minute},
		logger:   log.WithComponent("vision"),
		attempts: 10,
		baseWait: 5 * time.Second,
	}
}

// Enabled reports whether questions will actually be sent.
func (v *Vision) Enabled() bool { return v != nil && v.url != "" }

type visionRequest struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image"` // base64 JPEG
}

type visionResponse struct {
	Answer string `json:"answer"`
}

// Ask sends the prompt and image, returning the model's answer text.
func (v *Vision) Ask(ctx context.Context, prompt string, imageJPEG []byte) (string, error) {
	if !v.Enabled() {
		return "", fmt.Errorf("vision endpoint not configured")
	}
	body, err := json.Marshal(visionRequest{
		Prompt: prompt,
		Image:  base64.StdEncoding.EncodeToString(imageJPEG),
	})
	if err != nil {
		return "", fmt.Errorf("marshal vision request: %w", err)
	}

	var answer string
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			if v.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+v.apiKey)
			}
			resp, err := v.http.Do(req)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			defer resp.Body.Close()

			if retryableStatus(resp.StatusCode) {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("vision endpoint returned %s", resp.Status)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				io.Copy(io.Discard, resp.Body)
				return retry.Unrecoverable(fmt.Errorf("vision endpoint returned %s", resp.Status))
			}
			var out visionResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode vision response: %w", err))
			}
			answer = out.Answer
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(v.attempts),
		retry.Delay(v.baseWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			v.logger.Warn().Uint("attempt", n+1).Err(err).Msg("vision request retrying")
		}),
	)
	if err != nil {
		return "", fmt.Errorf("ask vision endpoint: %w", err)
	}
	return answer, nil
}
