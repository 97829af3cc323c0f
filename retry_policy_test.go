package authbridge

import (
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rcFor(method string) *RequestContext {
	return NewRequestContext("https://api.example.com", nil, &NormalizedRequest{Method: method, Endpoint: "/web/users/"})
}

func TestRetryPolicy_BackoffSchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	err := statusErr(500, "")

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, p.DelayFor(err, i+1), "attempt %d", i+1)
	}
}

func TestRetryPolicy_BackoffCeilingAndMonotonic(t *testing.T) {
	p := DefaultRetryPolicy()
	err := transportErr(nil)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		d := p.DelayFor(err, attempt)
		assert.LessOrEqual(t, d, 30*time.Second)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
	assert.Equal(t, time.Second, p.DelayFor(err, 0))
	assert.Equal(t, time.Second, p.DelayFor(err, -3))
}

func TestRetryPolicy_RetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultRetryPolicy()
	p.now = func() time.Time { return now }

	err := statusErr(http.StatusTooManyRequests, "")
	err.Response.Headers["retry-after"] = "7"
	assert.Equal(t, 7*time.Second, p.DelayFor(err, 1))

	err.Response.Headers["retry-after"] = now.Add(12 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 12*time.Second, p.DelayFor(err, 1))

	err.Response.Headers["retry-after"] = "3600"
	assert.Equal(t, 30*time.Second, p.DelayFor(err, 1), "capped")

	for _, huge := range []string{"99999999999", "1e300"} {
		err.Response.Headers["retry-after"] = huge
		assert.Equal(t, p.MaxBackoff, p.DelayFor(err, 1), "retry-after %s", huge)
	}

	err.Response.Headers["retry-after"] = "soon"
	assert.Equal(t, 2*time.Second, p.DelayFor(err, 2), "falls back to backoff")

	// Retry-After is only honored on 429.
	unavailable := statusErr(http.StatusServiceUnavailable, "")
	unavailable.Response.Headers["retry-after"] = "7"
	assert.Equal(t, time.Second, p.DelayFor(unavailable, 1))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	recoverable := statusErr(503, "")

	for _, m := range []string{"GET", "HEAD", "OPTIONS", "PUT", "DELETE"} {
		assert.True(t, p.ShouldRetry(recoverable, rcFor(m)), m)
	}
	for _, m := range []string{"POST", "PATCH"} {
		assert.False(t, p.ShouldRetry(recoverable, rcFor(m)), m)
	}

	optIn := rcFor("POST")
	optIn.RetryNonIdempotent = true
	assert.True(t, p.ShouldRetry(recoverable, optIn))

	exhausted := rcFor("GET")
	exhausted.RetryMeta.RetryCount = DefaultMaxRetries
	assert.False(t, p.ShouldRetry(recoverable, exhausted))

	refreshed := rcFor("GET")
	refreshed.RefreshRetried = true
	assert.False(t, p.ShouldRetry(recoverable, refreshed))

	assert.False(t, p.ShouldRetry(statusErr(404, ""), rcFor("GET")))
	assert.False(t, p.ShouldRetry(statusErr(401, ""), rcFor("GET")))
	assert.True(t, p.ShouldRetry(transportErr(syscall.ECONNRESET), rcFor("GET")))
	assert.False(t, p.ShouldRetry(nil, rcFor("GET")))
}

func TestNewRetryPolicy_Overrides(t *testing.T) {
	p := NewRetryPolicy(0, []string{"get", " post "}, 100*time.Millisecond, time.Second)
	assert.Equal(t, 0, p.MaxRetries)
	assert.True(t, p.IsIdempotent("POST"))
	assert.False(t, p.IsIdempotent("PUT"))
	assert.False(t, p.ShouldRetry(statusErr(500, ""), rcFor("GET")), "zero retries")

	p = NewRetryPolicy(-1, nil, 0, 0)
	assert.Equal(t, DefaultMaxRetries, p.MaxRetries)
	assert.Equal(t, DefaultBaseBackoff, p.BaseBackoff)
	assert.Equal(t, DefaultMaxBackoff, p.MaxBackoff)

	p = NewRetryPolicy(1, nil, time.Minute, time.Second)
	assert.Equal(t, time.Second, p.BaseBackoff, "base clamped to max")
}
