package provider

import (
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/superkabe/healthstack/internal/logger"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// retryClient retries 429 and 5xx responses and transport errors with
// exponential backoff and full jitter. Every attempt waits on the limiter.
type retryClient struct {
	client     httpDoer
	limiter    *rate.Limiter
	log        logger.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func (rc *retryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	ctx := req.Context()

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, errors.Wrap(err, "reset request body")
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			rc.log.Warnf("provider command retry %d/%d for %s %s (waiting %s): %v",
				attempt, rc.maxRetries, req.Method, req.URL.Path, delay, lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, ctx.Err()
			}
		}

		if rc.limiter != nil {
			if err := rc.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, "rate limiter")
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = errors.Errorf("retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

func (rc *retryClient) delay(attempt int) time.Duration {
	exp := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(rc.maxDelay) {
		exp = float64(rc.maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if floor := rc.baseDelay / 10; d < floor {
		d = floor
	}
	return d
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
