// Package transport is the HTTP plumbing shared by the remote generation
// providers: JSON request/response handling and error classification.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for provider failures.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrUnsupportedJobType  = errors.New("job type not supported by provider")
	ErrInvalidInput        = errors.New("invalid job input")
)

const maxErrorBody = 512

// Client posts JSON to a provider API.
type Client struct {
	http *http.Client
}

// NewClient returns a Client whose requests are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostJSON sends in as the JSON body and decodes a 2xx response into out.
// 5xx and 429 responses map to ErrProviderUnavailable, any other non-2xx
// status to ErrInvalidResponse.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, snippet)
		}
		return fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrInferenceTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// Prompt extracts the required "prompt" string from job input.
func Prompt(input map[string]any) (string, error) {
	p, ok := input["prompt"].(string)
	if !ok || p == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	return p, nil
}
