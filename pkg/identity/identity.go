// Package identity holds the normalized caller identity the core
// consumes from the request context. Token parsing and verification
// happen in Middleware; the coordinators themselves only ever see the
// Identity type.
package identity

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the normalized caller identity injected by Middleware.
// The core never parses tokens itself; it trusts this shape.
type Identity struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	EmailDomain string   `json:"email_domain"`
	Groups      []string `json:"groups,omitempty"`
	IsService   bool     `json:"is_service,omitempty"`
}

// ResolveTenantID maps an identity to its owning tenant id:
// "t:" + email_domain, except that the configured platform domains
// collapse to the single platform tenant "t:ubl_core".
func ResolveTenantID(id Identity, platformDomains []string) string {
	for _, d := range platformDomains {
		if strings.EqualFold(d, id.EmailDomain) {
			return "t:ubl_core"
		}
	}
	return "t:" + id.EmailDomain
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the Identity injected by Middleware. ok is false
// if no identity was ever set on ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// HMACKeyFunc returns a KeyFunc for a single shared HS256 secret,
// rejecting tokens signed with any other method. This is the
// production default; an identity provider issuing asymmetric tokens
// would supply its own KeyFunc instead.
func HMACKeyFunc(secret []byte) KeyFunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	}
}
