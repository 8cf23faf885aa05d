package mw

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"machine-catalog-backend/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, "GET", "/", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/", nil).Code)
	w := serve(r, "GET", "/", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"too many requests"}`, w.Body.String())
}

func TestIPRateLimiter_ReusesLimiter(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1)
	assert.Same(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.1"))
	assert.NotSame(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.2"))
}

func TestAuthenticate(t *testing.T) {
	resolver := auth.NewResolver("secret")
	r := gin.New()
	r.Use(Authenticate(resolver))
	r.GET("/", func(c *gin.Context) {
		id := CurrentIdentity(c)
		if id == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, id.UserID+"/"+id.Role)
	})

	assert.Equal(t, "anonymous", serve(r, "GET", "/", nil).Body.String())

	tok, err := resolver.Issue("u1", "Cliente", time.Hour)
	require.NoError(t, err)
	w := serve(r, "GET", "/", map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, "u1/cliente", w.Body.String())

	w = serve(r, "GET", "/", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAPIKey(t *testing.T) {
	build := func(key string) *gin.Engine {
		r := gin.New()
		r.GET("/", RequireAPIKey(key), func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	r := build("k3y")
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/", map[string]string{"x-api-key": "k3y"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "GET", "/", map[string]string{"x-api-key": "nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "GET", "/", nil).Code)

	assert.Equal(t, http.StatusForbidden, serve(build(""), "GET", "/", nil).Code)
}

func TestResponseCache(t *testing.T) {
	rc := NewResponseCache(time.Minute)
	resolver := auth.NewResolver("secret")
	calls := 0

	r := gin.New()
	r.Use(Authenticate(resolver), rc.Invalidator(), rc.Cache())
	r.GET("/items", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.POST("/items", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/fail", func(c *gin.Context) { c.Status(http.StatusConflict) })

	alice, _ := resolver.Issue("alice", auth.RoleCliente, time.Hour)
	bob, _ := resolver.Issue("bob", auth.RoleCliente, time.Hour)
	as := func(tok string) map[string]string { return map[string]string{"Authorization": "Bearer " + tok} }

	assert.JSONEq(t, `{"calls":1}`, serve(r, "GET", "/items", as(alice)).Body.String())
	w := serve(r, "GET", "/items", as(alice))
	assert.JSONEq(t, `{"calls":1}`, w.Body.String())
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	assert.JSONEq(t, `{"calls":2}`, serve(r, "GET", "/items", as(bob)).Body.String(), "callers do not share entries")
	assert.Equal(t, 2, rc.Len())

	serve(r, "POST", "/fail", as(alice))
	assert.Equal(t, 2, rc.Len(), "failed mutations keep the cache")

	serve(r, "POST", "/items", as(alice))
	assert.Zero(t, rc.Len())
	assert.JSONEq(t, `{"calls":3}`, serve(r, "GET", "/items", as(alice)).Body.String())
}

func TestResponseCache_FlushDuringRequestSkipsStore(t *testing.T) {
	rc := NewResponseCache(time.Minute)

	var mu sync.Mutex
	state := "before"
	entered := make(chan struct{})
	release := make(chan struct{})
	var block sync.Once

	r := gin.New()
	r.Use(rc.Invalidator(), rc.Cache())
	r.GET("/items", func(c *gin.Context) {
		mu.Lock()
		body := state
		mu.Unlock()
		block.Do(func() {
			close(entered)
			<-release
		})
		c.String(http.StatusOK, body)
	})
	r.POST("/items", func(c *gin.Context) {
		mu.Lock()
		state = "after"
		mu.Unlock()
		c.Status(http.StatusNoContent)
	})

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- serve(r, "GET", "/items", nil) }()
	<-entered

	require.Equal(t, http.StatusNoContent, serve(r, "POST", "/items", nil).Code)
	close(release)
	assert.Equal(t, "before", (<-done).Body.String())
	assert.Zero(t, rc.Len(), "a response read before the flush is not stored")

	w := serve(r, "GET", "/items", nil)
	assert.Equal(t, "after", w.Body.String())
	assert.Empty(t, w.Header().Get("X-Cache"))

	w = serve(r, "GET", "/items", nil)
	assert.Equal(t, "after", w.Body.String())
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}
