package httpapi

import (
	"net/http"
	"time"
)

const (
	refreshCookie = "cf_refresh"
	userCookie    = "cf_uid"
	cookiePath    = "/auth"
)

type cookieConfig struct {
	secure bool
	ttl    time.Duration
}

func (c cookieConfig) set(w http.ResponseWriter, userID, refreshToken string, expires time.Time) {
	maxAge := int(c.maxAge(expires).Seconds())
	for _, kv := range [][2]string{{refreshCookie, refreshToken}, {userCookie, userID}} {
		http.SetCookie(w, &http.Cookie{
			Name:     kv[0],
			Value:    kv[1],
			Path:     cookiePath,
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (c cookieConfig) clear(w http.ResponseWriter) {
	for _, name := range []string{refreshCookie, userCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cookiePath,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (c cookieConfig) maxAge(expires time.Time) time.Duration {
	d := time.Until(expires)
	if c.ttl > 0 && (d <= 0 || d > c.ttl) {
		d = c.ttl
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

// sessionCookies returns the user id and refresh token cookies, or empty
// strings when absent.
func sessionCookies(r *http.Request) (userID, refreshToken string) {
	if c, err := r.Cookie(userCookie); err == nil {
		userID = c.Value
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		refreshToken = c.Value
	}
	return userID, refreshToken
}
