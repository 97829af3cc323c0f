package authbridge

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

// Transport error codes reported in NormalizedError.Code for network failures.
const (
	CodeTimeout           = "ETIMEDOUT"
	CodeConnectionRefused = "ECONNREFUSED"
	CodeDNS               = "ENOTFOUND"
	CodeConnectionReset   = "ECONNRESET"
	CodeNetwork           = "ERR_NETWORK"
)

// recoverableStatuses are the HTTP statuses worth another attempt.
var recoverableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Classify sorts err into an ErrorKind. It never panics and returns
// KindUnknown for anything it cannot place.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var nerr *NormalizedError
	if errors.As(err, &nerr) && nerr.Type != "" {
		return nerr.Type
	}

	if status := statusCodeFromError(err); status > 0 {
		return classifyStatus(status)
	}

	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrCredentialStore) {
		return KindUnknown
	}
	if _, ok := networkCode(err); ok {
		return KindNetwork
	}

	var rerr *RequestError
	if errors.As(err, &rerr) && rerr != nil && rerr.Response == nil && rerr.Err != nil {
		return KindNetwork
	}
	return KindUnknown
}

// classifyStatus maps an HTTP status to its ErrorKind.
func classifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindAPI
	}
}

// IsRecoverable reports whether err is transient: a network failure or one
// of 408, 429, 500, 502, 503, 504.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if status := statusCodeFromError(err); status > 0 {
		_, ok := recoverableStatuses[status]
		return ok
	}
	return Classify(err) == KindNetwork
}

// networkCode recognises connection-level failure signatures.
func networkCode(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return CodeTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout, true
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return CodeConnectionRefused, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CodeTimeout, true
		}
		return CodeDNS, true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return CodeConnectionReset, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CodeNetwork, true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return CodeNetwork, true
	}
	if errors.Is(err, context.Canceled) {
		return CodeNetwork, true
	}
	return "", false
}
