package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"machine-catalog-backend/internal/catalog"
)

// VAPIDKey carries the public half of the push signing key pair.
type VAPIDKey struct {
	PublicKey string `json:"publicKey"`
}

// GetVAPIDPublicKey returns the VAPID public key to the client.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, catalog.Result[VAPIDKey]{Message: "push notifications are not configured"})
		return
	}

	c.JSON(http.StatusOK, catalog.OK("vapid key", VAPIDKey{PublicKey: h.webpush.VAPIDPublicKey}))
}
