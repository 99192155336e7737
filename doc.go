// Package credflow provides the credential lifecycle for a user service:
// two-phase signup with email verification, password sign-in, refresh-token
// rotation with server-side revocation, password reset through an OTP plus a
// short-lived reset token, password change and session blacklisting.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// credflow is the public surface. It exposes [Engine], [Builder], [Config],
// the error [Kind] taxonomy and value types. Token codecs, hashing and the
// Redis session layout live in sub-packages; credential persistence is
// behind [UserStore] and email delivery behind [Notifier].
//
// # Session state
//
// Each user has at most one refresh session: the Argon2id hash of the
// current refresh token, stored in Redis under the user id. Signin
// overwrites it, Refresh replaces it with a compare-and-swap so a rotated
// token can never be used again, and Signout or Blacklist delete it.
//
// # What this package must NOT do
//
//   - Log passwords, tokens, OTP codes or the pepper.
//   - Wait on email or audit delivery inside a flow.
//   - Touch Redis keys outside its configured prefix.
package credflow
