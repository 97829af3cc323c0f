// sdk.go
// ------
// Client is the entry point of the package. NewClient wires a retry policy,
// a per-host rate limiter, a refresh coordinator and the request executor
// around one credential store. Each client owns its own wiring; two clients
// never share refresh cycles or retry counters.
//
// Successful calls return the transport response unchanged. Failed calls
// return a *NormalizedError.
package authbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/opengovern/resilient-authbridge/store"
	"github.com/opengovern/resilient-authbridge/utils"
)

type Client struct {
	mu     sync.Mutex
	config *ClientConfig

	store       store.CredentialStore
	rateLimiter *RateLimiter
	policy      *RetryPolicy
	refresher   *RefreshCoordinator
	executor    *RequestExecutor
	log         *logrus.Logger
	// ownsLogger is false when the caller supplied the logger; its level
	// is then left alone.
	ownsLogger bool
}

// NewClient validates cfg, fills defaults and builds an independent client.
// cfg itself is not modified.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	cfg = cfg.clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, ownsLogger := cfg.Logger, false
	if log == nil {
		log, ownsLogger = logrus.New(), true
		log.SetLevel(logrus.InfoLevel)
		if cfg.Debug {
			log.SetLevel(logrus.DebugLevel)
		}
	}

	adapter := cfg.Adapter
	if adapter == nil {
		adapter = NewHTTPAdapter(&http.Client{}, cfg.UserAgent)
	}

	c := &Client{
		config:      cfg,
		store:       cfg.Store,
		rateLimiter: NewRateLimiter(cfg.MaxBackoff),
		policy:      NewRetryPolicy(cfg.maxRetries(), cfg.IdempotentMethods, cfg.BaseBackoff, cfg.MaxBackoff),
		log:         log,
		ownsLogger:  ownsLogger,
	}
	c.refresher = NewRefreshCoordinator(adapter, cfg.Store, cfg.OnLogout,
		joinURL(cfg.BaseURL, cfg.RefreshPath), joinURL(cfg.BaseURL, cfg.LoginPath), cfg.Timeout, log)
	c.executor = NewRequestExecutor(adapter, cfg.Store, c.policy, c.rateLimiter, c.refresher, cfg.Timeout, log)

	log.WithFields(logrus.Fields{
		"base_url":    cfg.BaseURL,
		"timeout":     cfg.Timeout,
		"max_retries": c.policy.MaxRetries,
	}).Debug("authbridge: client ready")
	return c, nil
}

// Derive builds a new independent client from this client's config with
// the mutators applied, e.g. to point at another base URL.
func (c *Client) Derive(mutators ...func(*ClientConfig)) (*Client, error) {
	c.mu.Lock()
	cfg := c.config.clone()
	c.mu.Unlock()
	for _, m := range mutators {
		m(cfg)
	}
	return NewClient(cfg)
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() ClientConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.config.clone()
}

// RequestOption tweaks a single call made through the verb helpers.
type RequestOption func(*NormalizedRequest)

// WithRetryNonIdempotent opts a POST or PATCH into the retry policy.
func WithRetryNonIdempotent() RequestOption {
	return func(r *NormalizedRequest) { r.RetryNonIdempotent = true }
}

func WithHeader(key, value string) RequestOption {
	return func(r *NormalizedRequest) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

// WithQuery appends query parameters to the endpoint.
func WithQuery(values url.Values) RequestOption {
	return func(r *NormalizedRequest) {
		if len(values) == 0 {
			return
		}
		sep := "?"
		if u, err := url.Parse(r.Endpoint); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		r.Endpoint += sep + values.Encode()
	}
}

// Do runs req through the pipeline.
func (c *Client) Do(ctx context.Context, req *NormalizedRequest) (*NormalizedResponse, error) {
	if req == nil {
		return nil, Transform(fmt.Errorf("%w: nil request", ErrInvalidRequest))
	}
	c.mu.Lock()
	baseURL, headers := c.config.BaseURL, c.config.DefaultHeaders
	c.mu.Unlock()

	rc := NewRequestContext(baseURL, headers, req)
	return c.executor.Execute(ctx, rc)
}

func (c *Client) Get(ctx context.Context, endpoint string, opts ...RequestOption) (*NormalizedResponse, error) {
	return c.call(ctx, http.MethodGet, endpoint, nil, opts)
}

func (c *Client) Delete(ctx context.Context, endpoint string, opts ...RequestOption) (*NormalizedResponse, error) {
	return c.call(ctx, http.MethodDelete, endpoint, nil, opts)
}

// Post encodes body as JSON. []byte and json.RawMessage bodies are sent as is.
func (c *Client) Post(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*NormalizedResponse, error) {
	return c.call(ctx, http.MethodPost, endpoint, body, opts)
}

func (c *Client) Put(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*NormalizedResponse, error) {
	return c.call(ctx, http.MethodPut, endpoint, body, opts)
}

func (c *Client) Patch(ctx context.Context, endpoint string, body any, opts ...RequestOption) (*NormalizedResponse, error) {
	return c.call(ctx, http.MethodPatch, endpoint, body, opts)
}

func (c *Client) call(ctx context.Context, method, endpoint string, body any, opts []RequestOption) (*NormalizedResponse, error) {
	data, err := encodeBody(body)
	if err != nil {
		return nil, Transform(fmt.Errorf("%w: encode body: %w", ErrInvalidRequest, err))
	}
	req := &NormalizedRequest{Method: method, Endpoint: endpoint, Body: data}
	for _, opt := range opts {
		opt(req)
	}
	return c.Do(ctx, req)
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

// Refresh forces a token refresh, joining one already in flight.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refresher.Refresh(ctx)
}

// RefreshCalls returns how many refresh requests this client has sent.
func (c *Client) RefreshCalls() int64 {
	return c.refresher.Calls()
}

func (c *Client) Credentials(ctx context.Context) (store.Credentials, error) {
	return c.store.Get(ctx)
}

// SetCredentials stores a freshly issued token pair, typically after login.
func (c *Client) SetCredentials(ctx context.Context, creds store.Credentials) error {
	return c.store.Set(ctx, creds)
}

// Logout clears the stored credentials and notifies the logout handler.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	c.refresher.logout(ctx, nil)
	return nil
}

// TokenSource exposes the stored access token as an oauth2.TokenSource so
// other oauth2-aware clients can share the session.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: c.store}
}

type storeTokenSource struct {
	ctx   context.Context
	store store.CredentialStore
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	creds, err := s.store.Get(s.ctx)
	if err != nil {
		return nil, err
	}
	tok := utils.ToOAuth2Token(creds)
	if tok == nil {
		return nil, ErrNoAccessToken
	}
	return tok, nil
}

// GetRateLimitInfo returns the throttling state last advertised by host.
func (c *Client) GetRateLimitInfo(host string) *NormalizedRateLimitInfo {
	return c.rateLimiter.GetRateLimitInfo(host)
}

// SetDebug switches debug logging on or off. A logger supplied through
// ClientConfig.Logger keeps the level its owner gave it.
func (c *Client) SetDebug(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Debug = enabled
	if !c.ownsLogger {
		return
	}
	if enabled {
		c.log.SetLevel(logrus.DebugLevel)
	} else {
		c.log.SetLevel(logrus.InfoLevel)
	}
}
