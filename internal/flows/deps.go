package flows

import "net/http"

// Doer executes one HTTP exchange. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deps groups flow dependency sets. The root client builds this once and delegates identity
// endpoint calls to the matching flow.
type Deps struct {
	Refresh RefreshDeps
	SignIn  SignInDeps
	Logout  LogoutDeps
}
