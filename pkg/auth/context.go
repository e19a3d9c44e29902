package auth

import (
	"context"
)

type contextKey string

const claimsKey contextKey = "jwt_claims"

// NewContextWithClaims speichert geprüfte Token-Claims im Kontext
func NewContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext liefert die von RequireToken gespeicherten Claims
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

// SessionIDFromContext returns the session ID of the request, or "guest"
// when no token was validated.
func SessionIDFromContext(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.SessionID == "" {
		return "guest"
	}
	return claims.SessionID
}

// UsernameFromContext returns the logged-in username, or "" for guests.
func UsernameFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Username
	}
	return ""
}
