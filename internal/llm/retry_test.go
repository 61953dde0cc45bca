package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRetryGate_HonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	var waits []time.Duration
	ctx := ContextWithRetryNotifier(context.Background(), func(attempt, max int, wait time.Duration) {
		waits = append(waits, wait)
	})

	gate := NewRetryGate(srv.Client(), DefaultRetryConfig(), zerolog.Nop())
	start := time.Now()
	resp, err := gate.Do(ctx, Call{Method: http.MethodPost, URL: srv.URL, Body: []byte("payload")})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "payload" {
		t.Fatalf("expected body replayed on retry, got %q", got)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Fatalf("expected a single 1s wait, got %v", waits)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected to wait about a second, waited %v", elapsed)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", hits.Load())
	}
}

func TestRetryGate_ReturnsLastRateLimitWhenExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	var attempts []int
	ctx := ContextWithRetryNotifier(context.Background(), func(attempt, max int, wait time.Duration) {
		attempts = append(attempts, attempt)
		if max != 2 {
			t.Errorf("expected max 2, got %d", max)
		}
	})

	gate := NewRetryGate(srv.Client(), RetryConfig{MaxRetries: 2, BaseBackoff: time.Millisecond}, zerolog.Nop())
	resp, err := gate.Do(ctx, Call{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("exhaustion should not be an error, got %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected final 429, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "slow down" {
		t.Fatalf("expected last body intact, got %q", body)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 1 call + 2 retries, got %d", hits.Load())
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("unexpected notifier attempts %v", attempts)
	}
}

func TestRetryGate_PassesThroughOtherStatuses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gate := NewRetryGate(srv.Client(), RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond}, zerolog.Nop())
	resp, err := gate.Do(context.Background(), Call{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || hits.Load() != 1 {
		t.Fatalf("expected single 503, got %d after %d calls", resp.StatusCode, hits.Load())
	}
}

type failingDoer struct {
	calls int
}

func (d *failingDoer) Do(*http.Request) (*http.Response, error) {
	d.calls++
	return nil, errors.New("connection refused")
}

func TestRetryGate_DoesNotRetryNetworkErrors(t *testing.T) {
	doer := &failingDoer{}
	gate := NewRetryGate(doer, DefaultRetryConfig(), zerolog.Nop())
	_, err := gate.Do(context.Background(), Call{Method: http.MethodGet, URL: "http://example.invalid"})
	if err == nil {
		t.Fatal("expected error")
	}
	if doer.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", doer.calls)
	}
}

func TestRetryGate_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ctx = ContextWithRetryNotifier(ctx, func(int, int, time.Duration) { cancel() })

	gate := NewRetryGate(srv.Client(), DefaultRetryConfig(), zerolog.Nop())
	_, err := gate.Do(ctx, Call{Method: http.MethodGet, URL: srv.URL})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second, true},
		{now.Add(-5 * time.Second).Format(http.TimeFormat), 0, true},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.in, now)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseRetryAfter(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRetryGate_RetryAfterZeroRetriesImmediately(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var waits []time.Duration
	ctx := ContextWithRetryNotifier(context.Background(), func(attempt, max int, wait time.Duration) {
		waits = append(waits, wait)
	})

	gate := NewRetryGate(srv.Client(), RetryConfig{MaxRetries: 3, BaseBackoff: 5 * time.Second}, zerolog.Nop())
	start := time.Now()
	resp, err := gate.Do(ctx, Call{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || hits.Load() != 2 {
		t.Fatalf("expected 200 after 2 requests, got %d after %d", resp.StatusCode, hits.Load())
	}
	if len(waits) != 1 || waits[0] != 0 {
		t.Fatalf("expected a single zero wait, got %v", waits)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected no backoff, waited %v", elapsed)
	}
}

func TestRetry_GenericCombinator(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), RetryConfig{MaxRetries: 5, BaseBackoff: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			return calls, nil
		},
		func(v int, err error) (bool, time.Duration) {
			return v < 3, UseBackoff
		})
	if err != nil || v != 3 || calls != 3 {
		t.Fatalf("expected 3 after 3 calls, got v=%d calls=%d err=%v", v, calls, err)
	}
}
