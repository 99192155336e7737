// Package password implements peppered Argon2id hashing for passwords and
// refresh tokens.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The pepper is appended to the secret before hashing and is never stored in
// the encoded output. Verify reads cost parameters from the stored hash, so
// hashes produced by either profile (password or refresh token) verify with
// the same [Argon2] value.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets; callers supply plaintext and receive hashes.
//   - Enforce password policy (length floor, reuse); the Engine owns that.
//   - Log secrets, peppers or hash parameters at runtime.
package password
