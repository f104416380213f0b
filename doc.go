// Package authgate is a client-side credential gateway for HTTP APIs that authenticate with a
// short-lived bearer token and a long-lived refresh token.
//
// A [Client] owns one credential session. Requests sent through [Client.HTTPClient] (or the
// [Transport] round tripper) carry the access token and the anti-forgery token. A 401 response
// triggers at most one concurrent refresh; every request denied while that refresh is in flight
// is held and replayed once with the new token, or rejected together when the refresh fails.
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Client], [Builder], [Config], [Transport] and the
// error and value types. Wire-level calls to the identity endpoints live in internal/flows and
// the pending-request queue in internal/pending; neither is exported.
//
// # What this package must NOT do
//
//   - Log or audit token values.
//   - Retry a request more than once.
//   - Keep state in package-level variables: two clients never share a session.
package authgate
