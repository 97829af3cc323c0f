// rate_limiter.go
// ----------------
// RateLimiter remembers the throttling state each host advertised and holds
// further sends to that host until its reset time has passed. State comes
// from x-ratelimit-* headers or from a 429 carrying Retry-After.
package authbridge

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/opengovern/resilient-authbridge/internal"
)

type RateLimiter struct {
	mu         sync.Mutex
	hostLimits map[string]*NormalizedRateLimitInfo
	// maxWait caps any single hold; zero means uncapped.
	maxWait time.Duration
	now     func() time.Time
}

func NewRateLimiter(maxWait time.Duration) *RateLimiter {
	return &RateLimiter{
		hostLimits: make(map[string]*NormalizedRateLimitInfo),
		maxWait:    maxWait,
		now:        time.Now,
	}
}

// UpdateRateLimits stores info for host. Empty info is ignored so a response
// without rate-limit headers does not erase a known hold.
func (r *RateLimiter) UpdateRateLimits(host string, info *NormalizedRateLimitInfo) {
	if info.isEmpty() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostLimits[host] = info
}

// canProceed reports whether a request to host may go out now.
func (r *RateLimiter) canProceed(host string) bool {
	return r.delayBeforeNextRequest(host) == 0
}

// delayBeforeNextRequest returns how long to hold a request to host.
func (r *RateLimiter) delayBeforeNextRequest(host string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.hostLimits[host]
	if !ok || info == nil {
		return 0
	}
	if info.RemainingRequests == nil || *info.RemainingRequests > 0 || info.ResetRequestsAt == nil {
		return 0
	}

	nowMs := r.now().UnixMilli()
	if nowMs >= *info.ResetRequestsAt {
		delete(r.hostLimits, host)
		return 0
	}
	delay := time.Duration(*info.ResetRequestsAt-nowMs) * time.Millisecond
	if r.maxWait > 0 && delay > r.maxWait {
		delay = r.maxWait
	}
	return delay
}

// GetRateLimitInfo returns a copy of the info known for host, or nil.
func (r *RateLimiter) GetRateLimitInfo(host string) *NormalizedRateLimitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.hostLimits[host]; ok {
		copyInfo := *info
		return &copyInfo
	}
	return nil
}

// ParseRateLimitInfo reads the rate-limit headers of resp. It returns nil
// when resp advertises nothing.
func ParseRateLimitInfo(resp *NormalizedResponse, now time.Time) *NormalizedRateLimitInfo {
	if resp == nil {
		return nil
	}
	info := &NormalizedRateLimitInfo{}

	if v, err := strconv.Atoi(resp.Header("x-ratelimit-limit")); err == nil {
		info.MaxRequests = &v
	}
	if v, err := strconv.Atoi(resp.Header("x-ratelimit-remaining")); err == nil {
		info.RemainingRequests = &v
	}
	if reset, ok := internal.ParseResetHeader(resp.Header("x-ratelimit-reset"), now); ok && internal.IsInFuture(reset, now) {
		ms := reset.UnixMilli()
		info.ResetRequestsAt = &ms
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := internal.ParseRetryAfter(resp.Header("retry-after"), now); ok {
			zero := 0
			ms := now.Add(d).UnixMilli()
			info.RemainingRequests = &zero
			info.ResetRequestsAt = &ms
		}
	}

	if info.isEmpty() {
		return nil
	}
	return info
}
