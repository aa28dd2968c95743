package identity

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ubl-core/ubl/pkg/apierr"
)

// Claims is the JWT claim shape the core expects the upstream identity
// provider to mint. The middleware verifies the bearer token with the
// supplied KeyFunc and normalizes its claims into an Identity.
type Claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	EmailDomain string   `json:"email_domain"`
	Groups      []string `json:"groups,omitempty"`
	IsService   bool     `json:"is_service,omitempty"`
}

// KeyFunc resolves the signing key for a token, matching the signature
// jwt.ParseWithClaims expects.
type KeyFunc func(*jwt.Token) (interface{}, error)

var publicPaths = map[string]bool{
	"/healthz": true,
}

func isPublicPath(path string) bool {
	return publicPaths[path]
}

// Middleware validates the bearer token on every non-public request and
// injects the resulting Identity into the request context. A request
// with no Authorization header, an invalid token, or a valid token
// missing a subject is rejected with unauthorized.
func Middleware(keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				apierr.WriteHTTP(w, r, nil, r.Header.Get("X-Request-Id"), apierr.New(apierr.CodeUnauthorized, "missing bearer token"))
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			var claims Claims
			_, err := jwt.ParseWithClaims(raw, &claims, jwt.Keyfunc(keyFunc))
			if err != nil {
				apierr.WriteHTTP(w, r, nil, r.Header.Get("X-Request-Id"), apierr.Wrap(apierr.CodeUnauthorized, "invalid token", err))
				return
			}
			if claims.Subject == "" {
				apierr.WriteHTTP(w, r, nil, r.Header.Get("X-Request-Id"), apierr.New(apierr.CodeUnauthorized, "token missing subject"))
				return
			}

			id := Identity{
				UserID:      claims.Subject,
				Email:       claims.Email,
				EmailDomain: claims.EmailDomain,
				Groups:      claims.Groups,
				IsService:   claims.IsService,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
