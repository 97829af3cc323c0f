package authbridge

import (
	"net/http"
	"strings"
	"time"

	"github.com/opengovern/resilient-authbridge/internal"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

// DefaultIdempotentMethods are the methods retried without an explicit opt-in.
var DefaultIdempotentMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPut,
	http.MethodDelete,
}

// RetryPolicy decides whether a failed attempt is repeated and how long to
// wait first. It holds no per-request state and is safe for concurrent use.
type RetryPolicy struct {
	MaxRetries        int
	IdempotentMethods map[string]struct{}
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration

	now func() time.Time
}

// NewRetryPolicy builds a policy; zero or empty arguments fall back to the defaults.
func NewRetryPolicy(maxRetries int, methods []string, base, maxBackoff time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if len(methods) == 0 {
		methods = DefaultIdempotentMethods
	}
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if base > maxBackoff {
		base = maxBackoff
	}

	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
	}
	return &RetryPolicy{
		MaxRetries:        maxRetries,
		IdempotentMethods: set,
		BaseBackoff:       base,
		MaxBackoff:        maxBackoff,
		now:               time.Now,
	}
}

func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(DefaultMaxRetries, nil, DefaultBaseBackoff, DefaultMaxBackoff)
}

// IsIdempotent reports whether method may be repeated without an opt-in.
func (p *RetryPolicy) IsIdempotent(method string) bool {
	_, ok := p.IdempotentMethods[strings.ToUpper(method)]
	return ok
}

// ShouldRetry reports whether the request described by rc may be sent again
// after err.
func (p *RetryPolicy) ShouldRetry(err error, rc *RequestContext) bool {
	if err == nil || rc == nil {
		return false
	}
	if rc.RetryMeta.RetryCount >= p.MaxRetries {
		return false
	}
	if rc.RefreshRetried {
		return false
	}
	if !p.IsIdempotent(rc.Method) && !rc.RetryNonIdempotent {
		return false
	}
	return IsRecoverable(err)
}

// DelayFor returns the wait before the given 1-indexed retry attempt. A 429
// carrying Retry-After uses the server's value; everything else backs off
// exponentially. The result never exceeds MaxBackoff.
func (p *RetryPolicy) DelayFor(err error, attempt int) time.Duration {
	if statusCodeFromError(err) == http.StatusTooManyRequests {
		if resp := responseFromError(err); resp != nil {
			if d, ok := internal.ParseRetryAfter(resp.Header("retry-after"), p.clock()); ok {
				if d < 0 || d > p.MaxBackoff {
					return p.MaxBackoff
				}
				return d
			}
		}
	}
	return p.backoff(attempt)
}

func (p *RetryPolicy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 62 || p.BaseBackoff > p.MaxBackoff>>shift {
		return p.MaxBackoff
	}
	return p.BaseBackoff << shift
}

func (p *RetryPolicy) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}
