// Package gateway implements the Gateway service: the sole JWT validation
// boundary, a reverse proxy to backend services, a WebSocket hub for
// external clients, and aggregated health checks.
package gateway

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload the Gateway accepts from clients.
type Claims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthContext is what the Gateway extracts from a validated token and
// injects into forwarded requests as headers.
type AuthContext struct {
	UserID   string
	TenantID string
	Roles    []string
}

// Validator verifies client-supplied JWTs against a pre-configured secret
// and, optionally, expected issuer/audience claims.
type Validator struct {
	secret   []byte
	issuer   string
	audience string

	// ServiceToken, when set, is injected as X-Service-Token on every
	// successfully authenticated forwarded request.
	ServiceToken string
}

// NewValidator constructs a Validator. issuer/audience may be empty to skip
// that claim check.
func NewValidator(secret []byte, issuer, audience string) *Validator {
	return &Validator{secret: secret, issuer: issuer, audience: audience}
}

// Validate performs the five-step JWT validation: signature, iss/aud/exp,
// then extracts the AuthContext.
func (v *Validator) Validate(tokenString string) (*AuthContext, error) {
	var opts []jwt.ParserOption
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	opts = append(opts, jwt.WithExpirationRequired())

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: validate token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("gateway: token invalid")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("gateway: token missing user_id claim")
	}

	return &AuthContext{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Roles:    claims.Roles,
	}, nil
}

// contextHeaders are stripped from every incoming request before
// authentication runs, then re-set from the validated AuthContext. This
// defends against a client smuggling identity by setting these headers
// directly (poison-header defense).
var contextHeaders = []string{"X-User-ID", "X-Tenant-ID", "X-User-Roles", "X-Service-Token"}

func stripContextHeaders(headers interface {
	Del(string)
}) {
	for _, h := range contextHeaders {
		headers.Del(h)
	}
}

func bearerToken(authHeader string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
