package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultRetries = 2

type retryClient struct {
	next    Client
	retries int
	backoff time.Duration
}

// withRetry retries transient failures. Client errors (4xx other than 429),
// errors of unknown origin and context cancellation are returned immediately.
func withRetry(next Client, retries int) Client {
	return &retryClient{next: next, retries: retries, backoff: 2 * time.Second}
}

func (c *retryClient) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		out, err := c.next.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

// anthropicStatus matches the status langchaingo's Anthropic client puts
// in its otherwise untyped errors.
var anthropicStatus = regexp.MustCompile(`unexpected status code: (\d{3})`)

// statusOf returns the HTTP status behind err, or 0 when none is known.
func statusOf(err error) int {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.HTTPStatusCode
	case errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0:
		return reqErr.HTTPStatusCode
	}
	if m := anthropicStatus.FindStringSubmatch(err.Error()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// retryable reports whether err is transient: an empty answer, 429, a 5xx
// status or a network failure. Anything else is returned to the caller.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	if status := statusOf(err); status != 0 {
		return status == http.StatusTooManyRequests || status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
