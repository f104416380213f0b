package flows

import (
	"context"
	"errors"
	"net/http"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	// RefreshFailureUnavailable means no refresh token was supplied; nothing was sent.
	RefreshFailureUnavailable
	// RefreshFailureExpired means the endpoint answered 401: the refresh token is dead.
	RefreshFailureExpired
	RefreshFailureTransport
	RefreshFailureStatus
	RefreshFailureDecode
)

// String returns the metrics/audit label of k.
func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureUnavailable:
		return "unavailable"
	case RefreshFailureExpired:
		return "expired"
	case RefreshFailureTransport:
		return "transport"
	case RefreshFailureStatus:
		return "status"
	case RefreshFailureDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the refreshed credentials or failure metadata.
type RefreshResult struct {
	Failure     RefreshFailureKind
	Err         error
	StatusCode  int
	Body        []byte
	Credentials Credentials
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Client   Doer
	Endpoint string
	// MaxBodyBytes bounds the response read, including a successful credential body.
	MaxBodyBytes int64
	// MaxErrorBodyBytes bounds the body kept for a rejected refresh.
	MaxErrorBodyBytes int64
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

var errMissingAccessToken = errors.New("refresh response carries no access token")

// RunRefresh posts refreshToken to the refresh endpoint. header carries per-call headers such
// as the anti-forgery token. An empty refreshToken fails with RefreshFailureUnavailable
// without any network call.
func RunRefresh(ctx context.Context, refreshToken string, header http.Header, deps RefreshDeps) RefreshResult {
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureUnavailable}
	}

	ex, err := postJSON(ctx, deps.Client, deps.Endpoint, header, refreshRequest{RefreshToken: refreshToken}, deps.MaxBodyBytes)
	if err != nil && ex.StatusCode == 0 {
		return RefreshResult{Failure: RefreshFailureTransport, Err: err}
	}
	if ex.StatusCode == http.StatusUnauthorized {
		return RefreshResult{Failure: RefreshFailureExpired, StatusCode: ex.StatusCode, Body: clip(ex.Body, deps.MaxErrorBodyBytes)}
	}
	if !isSuccess(ex.StatusCode) {
		return RefreshResult{Failure: RefreshFailureStatus, StatusCode: ex.StatusCode, Body: clip(ex.Body, deps.MaxErrorBodyBytes)}
	}
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err, StatusCode: ex.StatusCode}
	}

	creds, err := decodeCredentials(ex.Body)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err, StatusCode: ex.StatusCode, Body: ex.Body}
	}
	if creds.Token == "" {
		return RefreshResult{Failure: RefreshFailureDecode, Err: errMissingAccessToken, StatusCode: ex.StatusCode, Body: ex.Body}
	}

	return RefreshResult{StatusCode: ex.StatusCode, Credentials: creds}
}
