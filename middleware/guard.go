package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/credflow"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the access claims stored by [Guard].
func ClaimsFromContext(ctx context.Context) (*credflow.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*credflow.AccessClaims)
	return claims, ok
}

// Guard rejects requests without a valid bearer access token. Expired tokens
// get a distinct WWW-Authenticate error so clients know to refresh.
func Guard(engine *credflow.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ValidateAccess(token)
			if err != nil {
				if credflow.KindOf(err) == credflow.KindExpiredToken {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="expired"`)
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP records the request's remote address for audit events. Put it
// behind a proxy-aware middleware such as chi's RealIP when the service runs
// behind a load balancer.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if ip != "" {
			r = r.WithContext(credflow.WithClientIP(r.Context(), ip))
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
