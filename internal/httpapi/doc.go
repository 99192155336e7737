// Package httpapi exposes the credflow flows as a JSON HTTP API on a chi
// router. Refresh tokens and user ids travel in HttpOnly cookies; access
// tokens are returned in the body and sent back as bearer tokens.
package httpapi
