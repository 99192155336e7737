// Package jwt issues and verifies the signed, expiring tokens used by the
// credential flows: access, refresh, email verification (signup) and password
// reset. Each purpose has its own claim struct, HMAC secret and lifetime.
package jwt
