package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ControlClaims are the JWT claims expected on the operator control surface.
type ControlClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// ControlAuth validates HS256 bearer tokens for the /worker/* and
// /webhook-control/* endpoints. An empty key fails closed.
type ControlAuth struct {
	key []byte
}

// NewControlAuth creates a validator over the shared signing key.
func NewControlAuth(key string) *ControlAuth {
	if key == "" {
		return &ControlAuth{}
	}
	return &ControlAuth{key: []byte(key)}
}

// Validate parses and validates a token string.
func (a *ControlAuth) Validate(tokenStr string) (*ControlClaims, error) {
	if len(a.key) == 0 {
		return nil, fmt.Errorf("control auth not configured")
	}
	claims := &ControlClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	return claims, nil
}

// isPublicPath lists the endpoints reachable without a bearer token: webhook
// ingestion authenticates with provider signatures instead, and health
// probes must stay unauthenticated.
func isPublicPath(path string) bool {
	if strings.HasPrefix(path, "/webhooks/") {
		return true
	}
	switch path {
	case "/health", "/readiness":
		return true
	}
	return false
}

// Middleware enforces bearer auth on the control surface.
func (a *ControlAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteUnauthorized(w, "Missing Authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}
		if _, err := a.Validate(parts[1]); err != nil {
			WriteUnauthorized(w, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
