package retry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is kept in a
// StatusError.
const maxErrorBody = 4096

// HTTPDoer sends HTTP requests with retries. 2xx responses are returned,
// 429 and 5xx are retried, other statuses fail at once with a
// *StatusError. Transport errors are retried unless the request context
// is done.
type HTTPDoer struct {
	client *http.Client
	policy Policy
}

// NewHTTPDoer creates a doer. A nil client uses http.DefaultClient. The
// policy's Classifier is ignored in favor of the HTTP rules.
func NewHTTPDoer(client *http.Client, policy Policy) *HTTPDoer {
	if client == nil {
		client = http.DefaultClient
	}
	policy.Classifier = DefaultClassifier
	return &HTTPDoer{client: client, policy: policy}
}

// Do sends the request. The body is replayed on every attempt. The
// returned response body must be closed by the caller.
func (d *HTTPDoer) Do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	return DoValue(ctx, d.policy, func(ctx context.Context) (*http.Response, error) {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		if req.Header.Get("Content-Type") == "" && body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Permanent(err)
			}
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(errorBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	})
}

// parseRetryAfter parses a Retry-After header in delay-seconds or
// HTTP-date form.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
