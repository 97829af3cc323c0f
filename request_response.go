package authbridge

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NormalizedRequest is what callers hand to the client. Endpoint may be a
// path relative to the client's base URL or an absolute URL.
type NormalizedRequest struct {
	Method   string
	Endpoint string
	Headers  map[string]string
	Body     []byte

	// RetryNonIdempotent opts a POST/PATCH call into the retry policy.
	RetryNonIdempotent bool
}

// NormalizedResponse is the transport response, returned to callers unchanged.
// Header keys are lower-cased.
type NormalizedResponse struct {
	StatusCode int
	Headers    map[string]string
	Data       []byte
}

// Header returns the value of the named header, ignoring case.
func (r *NormalizedResponse) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers[strings.ToLower(name)]
}

// DecodeJSON unmarshals the response body into v.
func (r *NormalizedResponse) DecodeJSON(v any) error {
	return json.Unmarshal(r.Data, v)
}

// NormalizedRateLimitInfo is the throttling state a server advertised for a host.
type NormalizedRateLimitInfo struct {
	MaxRequests       *int
	RemainingRequests *int
	ResetRequestsAt   *int64 // unix milliseconds
}

func (i *NormalizedRateLimitInfo) isEmpty() bool {
	return i == nil || (i.MaxRequests == nil && i.RemainingRequests == nil && i.ResetRequestsAt == nil)
}

// RetryMeta is the per-request retry bookkeeping.
type RetryMeta struct {
	RetryCount int
}

// RequestContext is the per-call state the pipeline carries across attempts.
// It is created when a call starts and dropped when the call resolves.
type RequestContext struct {
	ID      string
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	RetryMeta          RetryMeta
	RetryNonIdempotent bool
	// RefreshRetried is set once the request has been resent after a token refresh.
	RefreshRetried bool

	Started time.Time
}

// NewRequestContext resolves req against baseURL and merges the default
// headers underneath the request's own.
func NewRequestContext(baseURL string, defaults map[string]string, req *NormalizedRequest) *RequestContext {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string, len(defaults)+len(req.Headers)+1)
	for k, v := range defaults {
		headers[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range req.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}

	id := uuid.NewString()
	if existing, ok := headers[requestIDHeader]; ok && existing != "" {
		id = existing
	}
	headers[requestIDHeader] = id

	return &RequestContext{
		ID:                 id,
		Method:             method,
		URL:                joinURL(baseURL, req.Endpoint),
		Headers:            headers,
		Body:               req.Body,
		RetryNonIdempotent: req.RetryNonIdempotent,
		Started:            time.Now(),
	}
}

const (
	requestIDHeader     = "X-Request-Id"
	authorizationHeader = "Authorization"
)

// setBearer attaches the access token, or removes the header when there is none.
func (rc *RequestContext) setBearer(token string) {
	if token == "" {
		delete(rc.Headers, authorizationHeader)
		return
	}
	rc.Headers[authorizationHeader] = "Bearer " + token
}

// toRequest snapshots the context for one transport attempt.
func (rc *RequestContext) toRequest() *NormalizedRequest {
	headers := make(map[string]string, len(rc.Headers))
	for k, v := range rc.Headers {
		headers[k] = v
	}
	return &NormalizedRequest{
		Method:   rc.Method,
		Endpoint: rc.URL,
		Headers:  headers,
		Body:     rc.Body,
	}
}

func (rc *RequestContext) host() string {
	u, err := url.Parse(rc.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func joinURL(base, endpoint string) string {
	if base == "" || isAbsoluteURL(endpoint) {
		return endpoint
	}
	if endpoint == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
