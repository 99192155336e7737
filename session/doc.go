// Package session provides the Redis-backed key/value store that holds
// server-side credential state: the current refresh-token hash per user, the
// active password-reset OTP per email and the reset grant issued after a
// successful OTP check.
//
// # Architecture boundaries
//
// This package owns key layout and Redis operations. It does NOT interpret
// tokens, hash secrets or decide which flow may write which key; those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import the root package, jwt or password (no upward imports).
//   - Store plaintext refresh tokens.
//   - Issue FLUSHDB; ResetAll is limited to the store prefix.
package session
