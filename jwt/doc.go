// Package jwt reads the expiry of access tokens without verifying them, and mints HS256 tokens
// for local identity servers used in development and load testing.
//
// The gateway never trusts what it reads here: an expired-looking token only triggers an early
// refresh, and validity is always decided by the server that receives the token.
package jwt
