package notion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion API error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion API error (%d): %s", e.Status, e.Message)
}

// IsAuth reports whether err means the token is invalid or lacks access.
// These never resolve on retry.
func IsAuth(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

func IsRateLimited(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusTooManyRequests
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusNotFound
}

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures, 429s and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return IsRateLimited(err) || apiErr.Status >= 500
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
