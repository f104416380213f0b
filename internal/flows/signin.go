package flows

import (
	"context"
	"errors"
	"net/http"
)

// SignInFailureKind classifies sign-in flow failures.
type SignInFailureKind int

const (
	SignInFailureNone SignInFailureKind = iota
	SignInFailureTransport
	SignInFailureStatus
	SignInFailureDecode
	// SignInFailureEncode means the credentials could not be encoded as JSON; nothing was sent.
	SignInFailureEncode
)

// SignInResult carries the issued credentials or the rejected response.
type SignInResult struct {
	Failure     SignInFailureKind
	Err         error
	StatusCode  int
	Header      http.Header
	Body        []byte
	Credentials Credentials
}

// SignInDeps captures sign-in flow dependencies.
type SignInDeps struct {
	Client   Doer
	Endpoint string
	// MaxBodyBytes bounds the response read, including a successful credential body.
	MaxBodyBytes int64
	// MaxErrorBodyBytes bounds the body kept for a rejected sign-in.
	MaxErrorBodyBytes int64
}

// RunSignIn posts credentials as JSON to the sign-in endpoint.
func RunSignIn(ctx context.Context, credentials any, header http.Header, deps SignInDeps) SignInResult {
	ex, err := postJSON(ctx, deps.Client, deps.Endpoint, header, credentials, deps.MaxBodyBytes)
	if err != nil && ex.StatusCode == 0 {
		if errors.Is(err, errEncode) {
			return SignInResult{Failure: SignInFailureEncode, Err: err}
		}
		return SignInResult{Failure: SignInFailureTransport, Err: err}
	}
	if !isSuccess(ex.StatusCode) {
		return SignInResult{Failure: SignInFailureStatus, StatusCode: ex.StatusCode, Header: ex.Header, Body: clip(ex.Body, deps.MaxErrorBodyBytes)}
	}
	if err != nil {
		return SignInResult{Failure: SignInFailureDecode, Err: err, StatusCode: ex.StatusCode, Header: ex.Header}
	}

	creds, err := decodeCredentials(ex.Body)
	if err != nil {
		return SignInResult{Failure: SignInFailureDecode, Err: err, StatusCode: ex.StatusCode, Header: ex.Header, Body: ex.Body}
	}
	if creds.Token == "" {
		return SignInResult{Failure: SignInFailureDecode, Err: errMissingAccessToken, StatusCode: ex.StatusCode, Header: ex.Header, Body: ex.Body}
	}
	return SignInResult{StatusCode: ex.StatusCode, Header: ex.Header, Credentials: creds}
}
