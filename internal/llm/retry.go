package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the defaults for rate limit retries: three
// retries starting at two seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 2 * time.Second,
	}
}

// Classifier decides whether a completed call should be retried. A wait of
// zero or more overrides the exponential schedule for the next backoff;
// UseBackoff keeps the schedule.
type Classifier[T any] func(v T, err error) (retryable bool, wait time.Duration)

// UseBackoff is the Classifier wait that defers to the exponential schedule.
const UseBackoff time.Duration = -1

var errRetryBudget = errors.New("retry budget exhausted")

// Retry runs call until classify says stop, the budget runs out or ctx ends.
// Backoff is base * 2^attempt unless classify supplies a wait. When the budget
// is exhausted the last value is returned with a nil error so the caller can
// interpret it. Errors from call are never retried unless classify says so.
func Retry[T any](ctx context.Context, cfg RetryConfig, call func(context.Context) (T, error), classify Classifier[T]) (T, error) {
	var (
		last     T
		override = UseBackoff
		attempt  int
	)

	schedule := retry.WithMaxRetries(uint64(max(cfg.MaxRetries, 0)), retry.NewExponential(max(cfg.BaseBackoff, time.Millisecond)))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := schedule.Next()
		if stop {
			return 0, true
		}
		if override >= 0 {
			next = override
		}
		attempt++
		if notify := RetryNotifierFromContext(ctx); notify != nil {
			notify(attempt, cfg.MaxRetries, next)
		}
		return next, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := call(ctx)
		last = v
		retryable, wait := classify(v, err)
		if !retryable {
			return err
		}
		override = wait
		if err == nil {
			err = errRetryBudget
		}
		return retry.RetryableError(err)
	})
	if errors.Is(err, errRetryBudget) {
		return last, nil
	}
	return last, err
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Call describes one HTTP request. Body is replayed on every attempt.
type Call struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RetryGate executes HTTP calls, retrying only on 429 Too Many Requests.
type RetryGate struct {
	client Doer
	config RetryConfig
	log    zerolog.Logger
}

// NewRetryGate wraps client. A nil client means http.DefaultClient.
func NewRetryGate(client Doer, config RetryConfig, log zerolog.Logger) *RetryGate {
	if client == nil {
		client = http.DefaultClient
	}
	return &RetryGate{client: client, config: config, log: log}
}

// Do sends call. Any status other than 429 is returned untouched, and the
// final 429 is returned as-is once the budget is spent. Transport errors are
// returned immediately.
func (g *RetryGate) Do(ctx context.Context, call Call) (*http.Response, error) {
	var prev *http.Response

	resp, err := Retry(ctx, g.config, func(ctx context.Context) (*http.Response, error) {
		drain(prev)
		prev = nil

		req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, bytes.NewReader(call.Body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for k, vs := range call.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		prev = resp
		return resp, nil
	}, g.classify)
	if err != nil {
		drain(prev)
		return nil, err
	}
	return resp, nil
}

func (g *RetryGate) classify(resp *http.Response, err error) (bool, time.Duration) {
	if err != nil || resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}
	wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	if !ok {
		wait = UseBackoff
	}
	g.log.Warn().
		Str("retry_after", resp.Header.Get("Retry-After")).
		Dur("wait", wait).
		Msg("rate limited")
	return true, wait
}

// parseRetryAfter accepts delta-seconds or an HTTP date. ok is false when the
// header is absent or unparseable; a date in the past means no wait.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
