package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"zefa-sync/internal/model"
)

var ErrDecode = errors.New("malformed response body")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.StatusCode, e.Detail)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}

	var envelope model.RemoteErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var s string
		if json.Unmarshal(envelope.Detail, &s) == nil {
			e.Detail = s
		} else {
			e.Detail = string(envelope.Detail)
		}
	}
	return e
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Classify maps any error returned by this package onto the chat error taxonomy.
func Classify(err error) model.ErrorCode {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return model.ErrUnauthorized
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return model.ErrTimeout
		case apiErr.StatusCode >= 500:
			return model.ErrServer
		case apiErr.StatusCode >= 400:
			return model.ErrClient
		}
		return model.ErrUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrTimeout
	}

	var urlErr *url.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return model.ErrNetwork
	}
	if errors.As(err, &urlErr) && !errors.Is(err, context.Canceled) {
		return model.ErrNetwork
	}

	return model.ErrUnknown
}
