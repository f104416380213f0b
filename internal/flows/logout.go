package flows

import (
	"context"
	"net/http"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Client       Doer
	Endpoint     string
	MaxBodyBytes int64
}

// LogoutResult reports the logout exchange. Err is set only when no response was received.
type LogoutResult struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Success reports whether the server acknowledged the logout with a 2xx status.
func (r LogoutResult) Success() bool {
	return r.Err == nil && isSuccess(r.StatusCode)
}

// RunLogout posts an empty body to the logout endpoint.
func RunLogout(ctx context.Context, header http.Header, deps LogoutDeps) LogoutResult {
	ex, err := postJSON(ctx, deps.Client, deps.Endpoint, header, nil, deps.MaxBodyBytes)
	if err != nil && ex.StatusCode == 0 {
		return LogoutResult{Err: err}
	}
	return LogoutResult{StatusCode: ex.StatusCode, Body: ex.Body}
}
