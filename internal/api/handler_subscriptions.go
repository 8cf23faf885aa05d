package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/model"
	"machine-catalog-backend/internal/mw"
)

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// Subscription is the public view of a stored push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
}

// PutSubscription registers a browser for pushes about the caller's
// machines. Re-registering an endpoint moves it to the caller.
func (h *Handler) PutSubscription(c *gin.Context) {
	id := mw.CurrentIdentity(c)
	if id == nil {
		respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.Permission("sign in to subscribe")))
		return
	}

	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest[Subscription](c, "body", "endpoint, p256dh and auth are required")
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
		UserID:   id.UserID,
	}

	err := h.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "user_id"}),
	}).Create(&subscription).Error
	if err != nil {
		h.log.Errorw("Failed to save push subscription", "user", id.UserID, "error", err)
		respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.Storage("failed to save subscription", err)))
		return
	}

	respond(c, http.StatusCreated, catalog.OK("subscription saved", Subscription{Endpoint: req.Endpoint}))
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes one of the caller's subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id := mw.CurrentIdentity(c)
	if id == nil {
		respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.Permission("sign in to unsubscribe")))
		return
	}

	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest[Subscription](c, "endpoint", "endpoint is required")
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Where("endpoint = ? AND user_id = ?", req.Endpoint, id.UserID).
		Delete(&model.PushSubscription{})
	if res.Error != nil {
		h.log.Errorw("Failed to delete push subscription", "user", id.UserID, "error", res.Error)
		respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.Storage("failed to delete subscription", res.Error)))
		return
	}
	if res.RowsAffected == 0 {
		respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.NotFound("subscription not found")))
		return
	}

	respond(c, http.StatusOK, catalog.OK("subscription deleted", Subscription{Endpoint: req.Endpoint}))
}

// rawQueryParam returns a query value without URL decoding; push endpoints
// are URLs themselves and are matched byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription reports whether the caller owns the subscription named by
// the endpoint query parameter.
func (h *Handler) GetSubscription(c *gin.Context) {
	id := mw.CurrentIdentity(c)
	if id == nil {
		respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.Permission("sign in to view subscriptions")))
		return
	}

	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		badRequest[Subscription](c, "endpoint", "endpoint is required")
		return
	}

	var subscription model.PushSubscription
	err := h.db.WithContext(c.Request.Context()).
		First(&subscription, "endpoint = ? AND user_id = ?", raw, id.UserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.NotFound("subscription not found")))
		} else {
			respond(c, http.StatusOK, catalog.Fail[Subscription](apperr.Storage("failed to load subscription", err)))
		}
		return
	}

	respond(c, http.StatusOK, catalog.OK("subscription found", Subscription{Endpoint: subscription.Endpoint}))
}
