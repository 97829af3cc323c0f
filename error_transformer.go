package authbridge

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var nowFunc = time.Now

const (
	msgNetwork            = "Unable to reach the server. Check your connection and try again."
	msgTimeout            = "The server took too long to respond. Please try again."
	msgConnectionRefused  = "The server refused the connection. Please try again later."
	msgDNS                = "The server address could not be resolved."
	msgConnectionReset    = "The connection was interrupted. Please try again."
	msgSessionExpired     = "Your session has expired. Please log in again."
	msgInvalidCredentials = "Invalid username or password."
	msgAccountLocked      = "Your account is locked. Contact an administrator."
	msgAccountDisabled    = "Your account is disabled. Contact an administrator."
	msgTokenInvalid       = "Your access token is invalid. Please log in again."
	msgRefreshExpired     = "Your login has expired. Please log in again."
	msgForbidden          = "You do not have permission to perform this action."
	msgValidation         = "The submitted data is invalid."
	msgAPI                = "The server could not complete the request."
	msgUnknown            = "An unexpected error occurred."
)

var networkMessages = map[string]string{
	CodeTimeout:           msgTimeout,
	CodeConnectionRefused: msgConnectionRefused,
	CodeDNS:               msgDNS,
	CodeConnectionReset:   msgConnectionReset,
	CodeNetwork:           msgNetwork,
}

var authMessages = map[string]string{
	"invalid_credentials":   msgInvalidCredentials,
	"authentication_failed": msgInvalidCredentials,
	"account_locked":        msgAccountLocked,
	"account_disabled":      msgAccountDisabled,
	"user_inactive":         msgAccountDisabled,
	"token_not_valid":       msgTokenInvalid,
	"token_invalid":         msgTokenInvalid,
	"refresh_expired":       msgRefreshExpired,
	"refresh_token_expired": msgRefreshExpired,
}

var statusMessages = map[int]string{
	http.StatusBadRequest:            "The request was malformed.",
	http.StatusNotFound:              "The requested resource was not found.",
	http.StatusMethodNotAllowed:      "This operation is not allowed.",
	http.StatusRequestTimeout:        "The request timed out. Please try again.",
	http.StatusConflict:              "The resource was modified by someone else.",
	http.StatusRequestEntityTooLarge: "The submitted data is too large.",
	http.StatusUnprocessableEntity:   msgValidation,
	http.StatusTooManyRequests:       "Too many requests. Please slow down and try again.",
	http.StatusInternalServerError:   "The server encountered an internal error.",
	http.StatusBadGateway:            "The server is temporarily unreachable.",
	http.StatusServiceUnavailable:    "The service is temporarily unavailable.",
	http.StatusGatewayTimeout:        "The server did not respond in time.",
}

// Transform converts any failure into a NormalizedError. Applying it to a
// NormalizedError returns that error unchanged.
func Transform(err error) *NormalizedError {
	if err == nil {
		return nil
	}
	if nerr, ok := AsNormalizedError(err); ok {
		return nerr
	}

	kind := Classify(err)
	out := &NormalizedError{
		Type:          kind,
		Status:        statusCodeFromError(err),
		OriginalError: err,
		Timestamp:     nowFunc(),
		IsTransformed: true,
	}

	body := responseBody(err)

	switch kind {
	case KindNetwork:
		code, ok := networkCode(err)
		if !ok {
			code = CodeNetwork
		}
		out.Code = code
		out.Message = networkMessages[code]
	case KindAuth:
		out.Code = serverCode(body)
		out.Message = authMessage(out.Code)
	case KindPermission:
		out.Code = serverCode(body)
		out.Message = msgForbidden
	case KindValidation, KindAPI:
		out.Code = serverCode(body)
		out.Message = bodyMessage(body, out.Status, kind)
	default:
		out.Message = msgUnknown
		if text := strings.TrimSpace(err.Error()); text != "" {
			out.Message = text
		}
	}
	out.Field = fieldOf(err, body)
	return out
}

func authMessage(code string) string {
	if msg, ok := authMessages[strings.ToLower(code)]; ok {
		return msg
	}
	return msgSessionExpired
}

// responseBody returns the failed response body when it is valid JSON.
func responseBody(err error) gjson.Result {
	resp := responseFromError(err)
	if resp == nil || len(resp.Data) == 0 || !gjson.ValidBytes(resp.Data) {
		return gjson.Result{}
	}
	return gjson.ParseBytes(resp.Data)
}

func serverCode(body gjson.Result) string {
	if !body.IsObject() {
		return ""
	}
	for _, path := range []string{"code", "error.code", "error_code"} {
		if v := body.Get(path); v.Exists() && v.Type != gjson.JSON && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func bodyMessage(body gjson.Result, status int, kind ErrorKind) string {
	if body.IsObject() {
		if msg := body.Get("message"); msg.Type == gjson.String && msg.String() != "" {
			return msg.String()
		}
		if errs := body.Get("errors"); errs.Exists() {
			var parts []string
			flattenErrors(errs, &parts)
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
		if detail := body.Get("detail"); detail.Type == gjson.String && detail.String() != "" {
			return detail.String()
		}
	}
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	if kind == KindValidation {
		return msgValidation
	}
	return msgAPI
}

// flattenErrors collects every leaf message under v in document order.
func flattenErrors(v gjson.Result, parts *[]string) {
	switch {
	case v.IsObject() || v.IsArray():
		v.ForEach(func(_, value gjson.Result) bool {
			flattenErrors(value, parts)
			return true
		})
	case v.Type == gjson.Null:
	default:
		if s := strings.TrimSpace(v.String()); s != "" {
			*parts = append(*parts, s)
		}
	}
}

func fieldOf(err error, body gjson.Result) string {
	var rerr *RequestError
	if errors.As(err, &rerr) && rerr != nil && rerr.Field != "" {
		return rerr.Field
	}
	if !body.IsObject() {
		return ""
	}
	if f := body.Get("field"); f.Type == gjson.String && f.String() != "" {
		return f.String()
	}
	if errs := body.Get("errors"); errs.IsObject() {
		var first string
		errs.ForEach(func(key, _ gjson.Result) bool {
			first = key.String()
			return false
		})
		return first
	}
	return ""
}
