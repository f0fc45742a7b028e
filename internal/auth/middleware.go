package auth

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultPublicPaths are served without a token.
var DefaultPublicPaths = []string{"/healthz", "/metrics"}

// Middleware authenticates review API requests and stores the claims in the
// request context. Scope checks are left to the handlers.
type Middleware struct {
	config Config
	public map[string]bool
}

// NewMiddleware builds a Middleware. publicPaths replaces DefaultPublicPaths
// when given.
func NewMiddleware(cfg Config, publicPaths ...string) Middleware {
	if len(publicPaths) == 0 {
		publicPaths = DefaultPublicPaths
	}
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return Middleware{config: cfg, public: public}
}

// Wrap rejects unauthenticated requests with 401 and a bearer challenge.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := ParseClaims(bearerToken(r.Header.Get("Authorization")), m.config)
		if err != nil {
			challenge := `Bearer realm="worklog"`
			if !errors.Is(err, ErrMissingToken) {
				challenge += `, error="invalid_token"`
			}
			w.Header().Set("WWW-Authenticate", challenge)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// bearerToken returns the credentials of a Bearer header, or "" for any other scheme.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
