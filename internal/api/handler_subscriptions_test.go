package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machine-catalog-backend/internal/auth"
	"machine-catalog-backend/internal/model"
)

const endpoint = "https://push.example/send/abc%2Bdef"

func TestPutSubscription_RequiresFields(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t, "client-1", auth.RoleCliente)

	code, env := s.do(t, "PUT", "/api/subscriptions", tok, map[string]string{"endpoint": endpoint})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.FieldErrors, "body")
}

func TestPutSubscription_Anonymous(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := s.do(t, "PUT", "/api/subscriptions", "", putSubscriptionRequest{Endpoint: endpoint, P256DH: "k", Auth: "a"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.token(t, "alice", auth.RoleCliente)
	bob := s.token(t, "bob", auth.RoleCliente)
	query := "/api/subscriptions?endpoint=" + endpoint

	code, _ := s.do(t, "PUT", "/api/subscriptions", alice, putSubscriptionRequest{Endpoint: endpoint, P256DH: "k1", Auth: "a1"})
	require.Equal(t, http.StatusCreated, code)

	code, env := s.do(t, "GET", query, alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, Subscription{Endpoint: endpoint}, decode[Subscription](t, env))

	code, _ = s.do(t, "GET", query, bob, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// The same browser signing in as bob moves the subscription.
	code, _ = s.do(t, "PUT", "/api/subscriptions", bob, putSubscriptionRequest{Endpoint: endpoint, P256DH: "k2", Auth: "a2"})
	require.Equal(t, http.StatusCreated, code)

	var stored model.PushSubscription
	require.NoError(t, s.db.First(&stored, "endpoint = ?", endpoint).Error)
	assert.Equal(t, "bob", stored.UserID)
	assert.Equal(t, "k2", stored.P256DH)

	code, _ = s.do(t, "DELETE", "/api/subscriptions", alice, deleteSubscriptionRequest{Endpoint: endpoint})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, "DELETE", "/api/subscriptions", bob, deleteSubscriptionRequest{Endpoint: endpoint})
	assert.Equal(t, http.StatusOK, code)

	var count int64
	s.db.Model(&model.PushSubscription{}).Count(&count)
	assert.Zero(t, count)
}

func TestRawQueryParam(t *testing.T) {
	raw := url.Values{"other": {"1"}}.Encode() + "&endpoint=" + endpoint
	got, ok := rawQueryParam(raw, "endpoint")
	require.True(t, ok)
	assert.Equal(t, endpoint, got, "value is not decoded")

	_, ok = rawQueryParam("other=1", "endpoint")
	assert.False(t, ok)
}
