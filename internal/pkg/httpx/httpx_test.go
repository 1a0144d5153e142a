package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("wrapped: %w", statusErr(503)), true},
		{statusErr(429), true},
		{statusErr(404), false},
	}
	for _, tc := range cases {
		if got := IsRetryableError(tc.err); got != tc.want {
			t.Fatalf("IsRetryableError(%v): want=%v got=%v", tc.err, tc.want, got)
		}
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"7"}}}
	if got := RetryAfterDuration(resp, time.Second, time.Minute); got != 7*time.Second {
		t.Fatalf("want=7s got=%v", got)
	}
	if got := RetryAfterDuration(resp, time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("cap: want=3s got=%v", got)
	}
	if got := RetryAfterDuration(nil, 2*time.Second, 0); got != 2*time.Second {
		t.Fatalf("fallback: want=2s got=%v", got)
	}
}

func TestExponentialBackoff(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := ExponentialBackoff(i, 2*time.Second, 2, 0); got != w {
			t.Fatalf("attempt %d: want=%v got=%v", i, w, got)
		}
	}
	if got := ExponentialBackoff(10, time.Second, 2, 30*time.Second); got != 30*time.Second {
		t.Fatalf("cap: want=30s got=%v", got)
	}
}
