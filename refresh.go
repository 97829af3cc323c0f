package authbridge

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/singleflight"

	"github.com/opengovern/resilient-authbridge/store"
	"github.com/opengovern/resilient-authbridge/utils"
)

const refreshKey = "refresh"

// RefreshCoordinator exchanges the stored refresh token for a new access
// token. Concurrent callers share one cycle, so a burst of 401s produces a
// single refresh call.
type RefreshCoordinator struct {
	adapter    TransportAdapter
	store      store.CredentialStore
	notifier   LogoutNotifier
	refreshURL string
	loginURL   string
	timeout    time.Duration
	log        *logrus.Logger

	group singleflight.Group
	calls atomic.Int64
}

func NewRefreshCoordinator(adapter TransportAdapter, st store.CredentialStore, notifier LogoutNotifier,
	refreshURL, loginURL string, timeout time.Duration, log *logrus.Logger) *RefreshCoordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RefreshCoordinator{
		adapter:    adapter,
		store:      st,
		notifier:   notifier,
		refreshURL: refreshURL,
		loginURL:   loginURL,
		timeout:    timeout,
		log:        log,
	}
}

// Refresh always exchanges the refresh token, joining a cycle already in flight.
func (c *RefreshCoordinator) Refresh(ctx context.Context) (string, error) {
	return c.join(ctx, "", true)
}

// Calls returns the number of refresh requests sent so far.
func (c *RefreshCoordinator) Calls() int64 {
	return c.calls.Load()
}

// refreshStale is used by the pipeline after a 401 produced by failedToken.
// When the store already holds a different access token, a cycle finished
// after that request went out and the stored token is returned as is.
func (c *RefreshCoordinator) refreshStale(ctx context.Context, failedToken string) (string, error) {
	return c.join(ctx, failedToken, false)
}

func (c *RefreshCoordinator) join(ctx context.Context, failedToken string, force bool) (string, error) {
	// Detached: waiters may leave, the cycle still completes.
	cycleCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.runCycle(cycleCtx, failedToken, force)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *RefreshCoordinator) runCycle(ctx context.Context, failedToken string, force bool) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	creds, err := c.store.Get(ctx)
	if err != nil {
		return "", c.fail(ctx, fmt.Errorf("%w: %w", ErrCredentialStore, err))
	}
	if !force && creds.HasAccessToken() && creds.AccessToken != failedToken {
		c.log.Debug("authbridge: access token already rotated, reusing it")
		return creds.AccessToken, nil
	}
	if !creds.HasRefreshToken() {
		if creds.IsEmpty() {
			// No session to end: it was never started or is already over.
			return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoRefreshToken)
		}
		return "", c.fail(ctx, ErrNoRefreshToken)
	}

	body, err := sjson.SetBytes([]byte(`{}`), "refresh", creds.RefreshToken)
	if err != nil {
		return "", c.fail(ctx, fmt.Errorf("build refresh body: %w", err))
	}

	c.calls.Add(1)
	c.log.WithField("url", c.refreshURL).Debug("authbridge: refreshing access token")

	resp, err := c.adapter.ExecuteRequest(ctx, &NormalizedRequest{
		Method:   http.MethodPost,
		Endpoint: c.refreshURL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: body,
	})
	if err != nil {
		return "", c.fail(ctx, &RequestError{Method: http.MethodPost, URL: c.refreshURL, Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.fail(ctx, &RequestError{Method: http.MethodPost, URL: c.refreshURL, Response: resp})
	}

	access := gjson.GetBytes(resp.Data, "access")
	if access.Type != gjson.String || access.String() == "" {
		return "", c.fail(ctx, ErrMalformedRefreshResult)
	}

	next := store.Credentials{AccessToken: access.String(), RefreshToken: creds.RefreshToken}
	if rotated := gjson.GetBytes(resp.Data, "refresh"); rotated.Type == gjson.String && rotated.String() != "" {
		next.RefreshToken = rotated.String()
	}
	if err := c.store.Set(ctx, next); err != nil {
		return "", c.fail(ctx, fmt.Errorf("store refreshed credentials: %w", err))
	}

	entry := c.log.WithField("rotated", next.RefreshToken != creds.RefreshToken)
	if exp, err := utils.TokenExpiry(next.AccessToken); err == nil {
		entry = entry.WithField("expires_at", exp.Format(time.RFC3339))
	}
	entry.Info("authbridge: access token refreshed")
	return next.AccessToken, nil
}

// fail ends the session: both tokens are dropped and the host is told to
// re-authenticate. It runs once per failed cycle.
func (c *RefreshCoordinator) fail(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := c.store.Clear(ctx); err != nil {
		c.log.WithError(err).Error("authbridge: clearing credentials after failed refresh")
	}

	err := fmt.Errorf("%w: %w", ErrRefreshFailed, cause)
	c.log.WithError(cause).Warn("authbridge: token refresh failed, logging out")
	c.logout(ctx, err)
	return err
}

func (c *RefreshCoordinator) logout(ctx context.Context, reason error) {
	if c.notifier == nil {
		return
	}
	c.notifier.NotifyLoggedOut(ctx, LogoutEvent{
		Reason:   reason,
		LoginURL: c.loginURL,
		At:       time.Now(),
	})
}
