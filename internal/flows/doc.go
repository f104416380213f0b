// Package flows contains the wire-level orchestrators for the identity endpoints: refresh,
// sign-in and logout.
//
// Each flow function (RunRefresh, RunSignIn, RunLogout) accepts a typed dependency struct and
// returns a result value classifying the outcome. Flows perform exactly one HTTP exchange and
// never touch the credential store, the anti-forgery cache, metrics or audit; the root client
// maps results onto those.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authgate (to avoid import cycles).
//   - Retry, refresh or replay anything.
package flows
