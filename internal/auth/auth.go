// Package auth resolves the caller's identity from a bearer token.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role names known to the catalog.
const (
	RoleAdmin      = "admin"
	RoleEngenheiro = "engenheiro"
	RoleCliente    = "cliente"
)

// ErrInvalidToken is returned for a token that is present but cannot be
// verified.
var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is an authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

// HasRole reports whether id carries one of roles. A nil identity has no role.
func HasRole(id *Identity, roles ...string) bool {
	if id == nil {
		return false
	}
	return slices.ContainsFunc(roles, func(r string) bool {
		return strings.EqualFold(r, id.Role)
	})
}

// Claims is the token payload: the subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver verifies HS256 tokens signed with a shared secret.
type Resolver struct {
	secret []byte
}

// NewResolver returns a resolver for secret. An empty secret rejects every
// token.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// CurrentUser resolves token into an identity. An empty token is the
// anonymous caller and yields (nil, nil).
func (r *Resolver) CurrentUser(token string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}
	if len(r.secret) == 0 {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Identity{UserID: claims.Subject, Role: strings.ToLower(claims.Role)}, nil
}

// Issue signs a token for userID with role, valid for ttl.
func (r *Resolver) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
