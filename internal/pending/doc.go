// Package pending holds requests that failed authorization while a credential refresh was in
// flight. Records are released together once the refresh settles: replayed with the new access
// token on success, rejected with the refresh cause on failure.
package pending
