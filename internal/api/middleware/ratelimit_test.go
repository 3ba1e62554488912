package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/offers/internal/api/middleware"
	"greendrake/offers/internal/auth"
	"greendrake/offers/internal/config"
	"greendrake/offers/internal/utils"
)

const testSecret = "test-secret"

func setupRouter(cfg *config.Config) (*gin.Engine, *middleware.RateLimiterMiddleware) {
	gin.SetMode(gin.TestMode)
	rm := middleware.NewRateLimiterMiddleware(cfg)
	r := gin.New()
	r.Use(middleware.CORSMiddleware())
	r.GET("/open", rm.Limit(), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(testSecret), rm.Limit())
	authed.GET("/me", func(c *gin.Context) {
		identity, ok := middleware.GetIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, identity)
	})
	authed.GET("/admin", middleware.AdminMiddleware(), func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r, rm
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	r, rm := setupRouter(&config.Config{RateLimitBucketSize: 2, RateLimitRefillRate: 1})
	defer rm.Stop()

	assert.Equal(t, http.StatusOK, get(r, "/open", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/open", "").Code)
	w := get(r, "/open", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
}

func TestRateLimiter_UsersHaveOwnBuckets(t *testing.T) {
	r, rm := setupRouter(&config.Config{RateLimitBucketSize: 1, RateLimitRefillRate: 1})
	defer rm.Stop()

	a, err := auth.GenerateJWT(utils.NewSixID(), false, testSecret, time.Minute)
	require.NoError(t, err)
	b, err := auth.GenerateJWT(utils.NewSixID(), false, testSecret, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(r, "/me", a).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/me", a).Code)
	assert.Equal(t, http.StatusOK, get(r, "/me", b).Code)
}

func TestAuthMiddleware(t *testing.T) {
	r, rm := setupRouter(&config.Config{RateLimitBucketSize: 100, RateLimitRefillRate: 100})
	defer rm.Stop()

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "garbage").Code)

	id := utils.NewSixID()
	token, err := auth.GenerateJWT(id, false, testSecret, time.Minute)
	require.NoError(t, err)
	w := get(r, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id.String())

	// Websocket clients pass the token as a query parameter.
	assert.Equal(t, http.StatusOK, get(r, "/me?access_token="+token, "").Code)

	assert.Equal(t, http.StatusForbidden, get(r, "/admin", token).Code)
	admin, err := auth.GenerateJWT(utils.NewSixID(), true, testSecret, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(r, "/admin", admin).Code)
}

func TestCORSPreflight(t *testing.T) {
	r, rm := setupRouter(&config.Config{RateLimitBucketSize: 1, RateLimitRefillRate: 1})
	defer rm.Stop()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/open", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
