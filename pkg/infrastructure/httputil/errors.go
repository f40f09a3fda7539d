// Package httputil maps raw provider HTTP failures into the normalized
// error taxonomy. Providers call these helpers instead of inspecting status
// codes themselves, so raw HTTP details never leak upward.
package httputil

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/prospectly/server/pkg/types"
)

// MaxErrorBodySize caps how much of a provider error body is carried in a
// normalized message.
const MaxErrorBodySize = 500

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// MapStatus converts an HTTP status code into a normalized error code.
func MapStatus(status int) types.ErrorCode {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.ErrAuth
	case status == http.StatusNotFound:
		return types.ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return types.ErrInvalidInput
	case status == http.StatusTooManyRequests:
		return types.ErrRateLimit
	case status == http.StatusPaymentRequired:
		return types.ErrQuota
	case status >= 500:
		return types.ErrProviderUnavailable
	default:
		return types.ErrProviderUnavailable
	}
}

// CheckResponse returns nil for success responses and a normalized error for
// 4xx/5xx responses, consuming (and truncating) the body for the message.
func CheckResponse(resp *http.Response) *types.Error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize+1))
	resp.Body.Close()

	msg := http.StatusText(resp.StatusCode)
	if len(body) > 0 {
		msg = msg + ": " + truncate(string(body), MaxErrorBodySize)
	}
	return types.NewError(MapStatus(resp.StatusCode), msg)
}

// MapTransportError normalizes a transport-level failure: context deadlines
// become TIMEOUT, everything else (DNS, refused connections, resets) becomes
// PROVIDER_UNAVAILABLE.
func MapTransportError(err error) *types.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrTimeout, "request canceled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewError(types.ErrTimeout, "network timeout")
	}
	return types.Errorf(types.ErrProviderUnavailable, "network error: %v", err)
}
