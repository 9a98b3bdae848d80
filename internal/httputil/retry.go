// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages.
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxAttempts is the total attempt budget when a Policy leaves
// MaxAttempts unset.
const DefaultMaxAttempts = 3

// Policy bounds a retried request.
type Policy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int

	// Delay is the pause between attempts. Zero retries immediately.
	Delay time.Duration
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// DoWithRetry executes req and passes each 2xx response to handle. Any
// failure counts as a failed attempt: a transport error, a non-2xx status
// (*StatusError), or an error returned by handle (for example a body that
// does not parse). Failed attempts are retried until p.MaxAttempts attempts
// have been made.
//
// It returns the number of attempts made and, when every attempt failed,
// the last error. The response body is drained and closed after handle
// returns. If ctx is cancelled the function stops and returns ctx.Err().
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, p Policy, handle func(*http.Response) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && p.Delay > 0 {
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(p.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = doOnce(ctx, client, req, handle)
		if lastErr == nil {
			return attempt, nil
		}
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, lastErr
}

func doOnce(ctx context.Context, client *http.Client, req *http.Request, handle func(*http.Response) error) error {
	resp, err := client.Do(req.Clone(ctx))
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted()}
	}
	return handle(resp)
}
