package authbridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opengovern/resilient-authbridge/store"
)

// RequestExecutor runs one call through attach, send and route until it
// succeeds or is rejected. Route decides between a token refresh, a
// policy retry and rejection.
type RequestExecutor struct {
	adapter   TransportAdapter
	store     store.CredentialStore
	policy    *RetryPolicy
	limiter   *RateLimiter
	refresher *RefreshCoordinator
	timeout   time.Duration
	log       *logrus.Logger
}

func NewRequestExecutor(adapter TransportAdapter, st store.CredentialStore, policy *RetryPolicy,
	limiter *RateLimiter, refresher *RefreshCoordinator, timeout time.Duration, log *logrus.Logger) *RequestExecutor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RequestExecutor{
		adapter:   adapter,
		store:     st,
		policy:    policy,
		limiter:   limiter,
		refresher: refresher,
		timeout:   timeout,
		log:       log,
	}
}

// Execute sends rc until it resolves. Only 2xx responses succeed; every
// other outcome is returned as a *NormalizedError.
func (re *RequestExecutor) Execute(ctx context.Context, rc *RequestContext) (*NormalizedResponse, error) {
	var refreshed string
	for attempt := 1; ; attempt++ {
		entry := re.log.WithFields(logrus.Fields{
			"request_id": rc.ID,
			"method":     rc.Method,
			"url":        rc.URL,
			"attempt":    attempt,
		})

		sentWith, err := re.attach(ctx, rc, refreshed)
		if err != nil {
			return nil, re.reject(entry, rc, &RequestError{Method: rc.Method, URL: rc.URL, Err: err})
		}
		if err := re.waitForRateLimit(ctx, rc, entry); err != nil {
			return nil, re.reject(entry, rc, &RequestError{Method: rc.Method, URL: rc.URL, Err: err})
		}

		entry.Debug("authbridge: sending request")
		resp, failure := re.send(ctx, rc)
		if failure == nil {
			if attempt > 1 {
				entry.WithField("elapsed", time.Since(rc.Started)).Debug("authbridge: request succeeded after retry")
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, re.reject(entry, rc, &RequestError{Method: rc.Method, URL: rc.URL, Err: ctx.Err()})
		}

		if statusCodeFromError(failure) == http.StatusUnauthorized {
			if rc.RefreshRetried {
				entry.Warn("authbridge: still unauthorized after token refresh")
				re.endSession(ctx)
				failure.Err = ErrSessionRejected
				return nil, re.reject(entry, rc, failure)
			}

			rc.RefreshRetried = true
			entry.Debug("authbridge: unauthorized, refreshing token")
			token, err := re.refresher.refreshStale(ctx, sentWith)
			if err != nil {
				if ctx.Err() != nil {
					return nil, re.reject(entry, rc, &RequestError{Method: rc.Method, URL: rc.URL, Err: ctx.Err()})
				}
				failure.Err = err
				return nil, re.reject(entry, rc, failure)
			}
			refreshed = token
			continue
		}

		if !re.policy.ShouldRetry(failure, rc) {
			return nil, re.reject(entry, rc, failure)
		}
		rc.RetryMeta.RetryCount++
		delay := re.policy.DelayFor(failure, rc.RetryMeta.RetryCount)
		entry.WithFields(logrus.Fields{
			"retry": rc.RetryMeta.RetryCount,
			"delay": delay,
		}).WithError(failure).Debug("authbridge: retrying")
		if err := waitFor(ctx, delay); err != nil {
			return nil, re.reject(entry, rc, &RequestError{Method: rc.Method, URL: rc.URL, Err: err})
		}
	}
}

// attach sets the bearer header and returns the token it used. After a
// refresh the refreshed token is used instead of re-reading the store.
func (re *RequestExecutor) attach(ctx context.Context, rc *RequestContext, refreshed string) (string, error) {
	if refreshed != "" {
		rc.setBearer(refreshed)
		return refreshed, nil
	}
	creds, err := re.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCredentialStore, err)
	}
	rc.setBearer(creds.AccessToken)
	return creds.AccessToken, nil
}

// send performs one attempt bounded by the per-attempt timeout. A non-2xx
// response comes back as a *RequestError carrying it.
func (re *RequestExecutor) send(ctx context.Context, rc *RequestContext) (*NormalizedResponse, *RequestError) {
	attemptCtx := ctx
	if re.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, re.timeout)
		defer cancel()
	}

	resp, err := re.adapter.ExecuteRequest(attemptCtx, rc.toRequest())
	if err != nil {
		return nil, &RequestError{Method: rc.Method, URL: rc.URL, Err: err}
	}
	if resp == nil {
		return nil, &RequestError{Method: rc.Method, URL: rc.URL, Err: ErrInvalidRequest}
	}

	if info := ParseRateLimitInfo(resp, time.Now()); info != nil {
		re.limiter.UpdateRateLimits(rc.host(), info)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &RequestError{Method: rc.Method, URL: rc.URL, Response: resp}
	}
	return resp, nil
}

func (re *RequestExecutor) waitForRateLimit(ctx context.Context, rc *RequestContext, entry *logrus.Entry) error {
	host := rc.host()
	if re.limiter.canProceed(host) {
		return nil
	}
	delay := re.limiter.delayBeforeNextRequest(host)
	entry.WithField("delay", delay).Debug("authbridge: holding request for rate limit")
	return waitFor(ctx, delay)
}

// endSession drops the credentials and tells the host to log in again.
func (re *RequestExecutor) endSession(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := re.store.Clear(ctx); err != nil {
		re.log.WithError(err).Error("authbridge: clearing credentials")
	}
	re.refresher.logout(ctx, ErrSessionRejected)
}

func (re *RequestExecutor) reject(entry *logrus.Entry, rc *RequestContext, err error) *NormalizedError {
	nerr := Transform(err)
	entry.WithFields(logrus.Fields{
		"type":    nerr.Type,
		"status":  nerr.Status,
		"retries": rc.RetryMeta.RetryCount,
	}).WithError(nerr.OriginalError).Debug("authbridge: request failed")
	return nerr
}

// waitFor blocks for d or until ctx is done.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
