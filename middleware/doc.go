// Package middleware exposes HTTP middleware built on credflow.Engine.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and injects its claims into
//     the request context.
//   - [ClientIP] copies the caller address into the context so audit events
//     carry it.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine.ValidateAccess).
//   - Access Redis.
//   - Make authorization decisions beyond pass/reject.
package middleware
