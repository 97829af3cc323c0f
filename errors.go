package authbridge

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the coarse class every failure is sorted into.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindAuth       ErrorKind = "auth"
	KindPermission ErrorKind = "permission"
	KindValidation ErrorKind = "validation"
	KindAPI        ErrorKind = "api"
	KindUnknown    ErrorKind = "unknown"
)

func (k ErrorKind) String() string {
	return string(k)
}

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrNoRefreshToken         = errors.New("no refresh token available")
	ErrNoAccessToken          = errors.New("no access token available")
	ErrRefreshFailed          = errors.New("token refresh failed")
	ErrMalformedRefreshResult = errors.New("refresh response carried no access token")
	ErrSessionRejected        = errors.New("request rejected after token refresh")
	ErrInvalidConfig          = errors.New("invalid client config")
	ErrCredentialStore        = errors.New("credential store unavailable")
)

// RequestError is the raw outcome of a failed attempt, before
// normalization. Response is nil when no HTTP response arrived.
type RequestError struct {
	Method   string
	URL      string
	Response *NormalizedResponse
	Err      error
	// Field optionally names the input field the failure is about.
	Field string
}

func (e *RequestError) Error() string {
	switch {
	case e == nil:
		return "request failed"
	case e.Response != nil && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.Response.StatusCode, e.Err)
	case e.Response != nil:
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Response.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: request failed", e.Method, e.URL)
	}
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusCode returns the HTTP status of the failed attempt, or 0.
func (e *RequestError) StatusCode() int {
	if e == nil || e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

// NormalizedError is the only error shape callers of the client ever see.
// It is built once by Transform and must be treated as read-only.
type NormalizedError struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
	// Field is empty when the failure is not tied to an input field.
	Field string `json:"field,omitempty"`
	// Code is a server-supplied or transport error code, empty when absent.
	Code string `json:"code,omitempty"`
	// Status is the HTTP status, 0 when no response arrived.
	Status        int       `json:"status,omitempty"`
	OriginalError error     `json:"-"`
	Timestamp     time.Time `json:"timestamp"`
	IsTransformed bool      `json:"is_transformed"`
}

func (e *NormalizedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *NormalizedError) Unwrap() error {
	return e.OriginalError
}

// AsNormalizedError extracts the NormalizedError from err's chain.
func AsNormalizedError(err error) (*NormalizedError, bool) {
	var nerr *NormalizedError
	if errors.As(err, &nerr) {
		return nerr, true
	}
	return nil, false
}

type statusCoder interface {
	StatusCode() int
}

// statusCodeFromError extracts the HTTP status carried anywhere in err's chain.
func statusCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var nerr *NormalizedError
	if errors.As(err, &nerr) && nerr.Status > 0 {
		return nerr.Status
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc != nil {
		return sc.StatusCode()
	}
	return 0
}

func responseFromError(err error) *NormalizedResponse {
	var rerr *RequestError
	if errors.As(err, &rerr) && rerr != nil {
		return rerr.Response
	}
	return nil
}
