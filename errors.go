package authgate

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport wraps failures of the underlying round tripper: no response was received.
	ErrTransport = errors.New("transport failure")
	// ErrAuthorizationDenied is matched by every 401 response surfaced to the caller.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrRefreshExpired means the refresh endpoint rejected the refresh token. The session has
	// been cleared and sign-in is required.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshUnavailable means no refresh token was held. No network call was made.
	ErrRefreshUnavailable = errors.New("refresh token unavailable")
	// ErrRefreshFailed means the refresh could not complete for a reason other than an expired
	// token (transport failure, unexpected status, malformed body). The session is kept.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrValidation is returned for invalid caller input.
	ErrValidation = errors.New("validation failed")
	// ErrPendingTimeout means a request queued behind an in-flight refresh waited too long.
	ErrPendingTimeout = errors.New("pending request timed out")
	// ErrPendingQueueFull means too many requests were already queued behind a refresh.
	ErrPendingQueueFull = errors.New("pending request queue full")
	// ErrSignedOut is the reason attached to the sign-in signal after an explicit logout. A
	// refresh whose session was signed out or replaced while it ran also fails with it.
	ErrSignedOut = errors.New("signed out")
	// ErrClientNotReady is returned by methods of a nil or closed client.
	ErrClientNotReady = errors.New("client not ready")
)

// ResponseError is a non-success HTTP response converted to an error. Body holds at most
// Config.MaxErrorBodyBytes of the response body.
type ResponseError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *ResponseError) Error() string {
	msg := ResponseMessage(e.Body)
	if msg == GenericErrorMessage {
		return fmt.Sprintf("authgate: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("authgate: status %d: %s", e.StatusCode, msg)
}

// Unwrap returns ErrAuthorizationDenied for 401 responses.
func (e *ResponseError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrAuthorizationDenied
	}
	return nil
}

// Message returns the structured error message carried in the body, or GenericErrorMessage.
func (e *ResponseError) Message() string {
	return ResponseMessage(e.Body)
}

// RecoveryError reports a 401 that could not be recovered. Original is the 401 the request
// first received; Err is the reason recovery failed (ErrRefreshExpired, ErrRefreshUnavailable,
// ErrRefreshFailed, ErrPendingTimeout, ...). errors.Is matches both.
type RecoveryError struct {
	Original *ResponseError
	Err      error
}

func (e *RecoveryError) Error() string {
	if e.Err == nil {
		return "authgate: authorization recovery failed"
	}
	return "authgate: authorization recovery failed: " + e.Err.Error()
}

func (e *RecoveryError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Original != nil {
		out = append(out, e.Original)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}
