// Package session holds the client-side credential set for one signed-in user: the in-memory
// access token, the durable refresh token, the role, and the user profile.
//
// # Durable storage
//
// Only the refresh token and a "restore on next load" flag ever leave process memory. They are
// written through a [Durable] backend: [MemoryDurable] for tests and short-lived processes,
// [RedisDurable] when several processes on one host share a session.
//
// # Architecture boundaries
//
// This package owns the [Store] (get/set/clear) and the [Session] model. It does NOT inspect
// token contents, talk to identity endpoints, or decide when a refresh happens; validity is
// determined solely by server responses observed elsewhere.
//
// # What this package must NOT do
//
//   - Import authgate, jwt, or antiforgery (no upward imports).
//   - Persist the access token.
//   - Expose mutable references to the stored session.
package session
