// internal/time_parser.go
// ------------------------
// Helpers for turning server-supplied throttling headers into durations and
// instants. Retry-After may carry delay-seconds or an HTTP-date; rate-limit
// reset headers may carry a UNIX timestamp, a delta in seconds, or a Go
// style duration such as "6m0s".
package internal

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// unixThreshold separates UNIX timestamps from small deltas in reset headers.
const unixThreshold = 1_000_000_000

// maxDurationSeconds is the largest number of seconds a time.Duration holds.
const maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseRetryAfter interprets a Retry-After header value relative to now.
// Dates in the past yield a zero delay.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		if secs >= maxDurationSeconds {
			return time.Duration(math.MaxInt64), true
		}
		return time.Duration(secs * float64(time.Second)), true
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// ParseTimeStr converts strings like "1s", "250ms", "6m0s" into a duration.
func ParseTimeStr(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// ParseResetHeader converts a rate-limit reset header into an absolute time.
func ParseResetHeader(value string, now time.Time) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n < 0 {
			return time.Time{}, false
		}
		if n >= unixThreshold {
			return time.Unix(n, 0), true
		}
		return now.Add(time.Duration(n) * time.Second), true
	}

	if d, ok := ParseTimeStr(value); ok {
		return now.Add(d), true
	}
	return time.Time{}, false
}

// IsInFuture reports whether t lies after now.
func IsInFuture(t, now time.Time) bool {
	return t.After(now)
}
