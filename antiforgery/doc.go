// Package antiforgery fetches and caches the anti-forgery (CSRF) token issued by the identity
// service.
//
// The token is obtained from a dedicated endpoint that answers 204 No Content and delivers the
// token as a response header or cookie. A [Provider] never returns errors to its callers: a
// failed fetch is logged, leaves the cache empty, and the next [Provider.Ensure] tries again.
package antiforgery
