package mw

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"machine-catalog-backend/internal/auth"
)

const identityKey = "identity"

// Authenticate resolves the bearer token of each request. Requests without
// a token continue anonymously; a token that does not verify is rejected.
func Authenticate(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.CurrentUser(auth.BearerToken(c.Request))
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				abort(c, http.StatusUnauthorized, "invalid or expired token")
			} else {
				abort(c, http.StatusInternalServerError, "failed to resolve identity")
			}
			return
		}
		if id != nil {
			c.Set(identityKey, id)
		}
		c.Next()
	}
}

// CurrentIdentity returns the identity Authenticate attached, or nil.
func CurrentIdentity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// RequireAPIKey admits only requests whose x-api-key header equals key. An
// empty key disables the routes behind it.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			abort(c, http.StatusForbidden, "external api is disabled")
			return
		}
		got := c.GetHeader("x-api-key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			abort(c, http.StatusUnauthorized, "invalid api key")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}
