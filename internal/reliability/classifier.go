package reliability

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Kind classifies why an upstream generation call failed.
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindAuthFailure     Kind = "auth_failure"
	KindInvalidResponse Kind = "invalid_response_shape"
	KindRateLimited     Kind = "rate_limited"
	KindUnknown         Kind = "unknown"
)

// IsRetryableHTTPStatus classifies HTTP status codes worth trying elsewhere.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// KindFromHTTPStatus maps an upstream HTTP status to a failure kind.
func KindFromHTTPStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthFailure
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == 529:
		// Upstream "overloaded" status.
		return KindRateLimited
	default:
		return KindUnknown
	}
}

// KindFromError classifies transport-level errors.
func KindFromError(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}
