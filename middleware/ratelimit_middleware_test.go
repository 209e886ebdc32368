package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/6587027/VipStore-sub001/limiter"
	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/services"
)

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	tokens := services.NewTokenService("secret", time.Hour)
	manager := limiter.NewManager(rdb, &limiter.FixedWindowStrategy{})
	rateLimit := NewRateLimitMiddleware(manager, RateLimitConfig{Limit: 2, Window: time.Minute, KeyFunc: IdentityKey}, zerolog.Nop())

	e := echo.New()
	e.GET("/me", whoami, AuthMiddleware(tokens), rateLimit)
	e.GET("/open", whoami, rateLimit)

	alice := "Bearer " + issue(t, tokens, "alice", models.RoleCustomer)
	bob := "Bearer " + issue(t, tokens, "bob", models.RoleCustomer)

	assert.Equal(t, http.StatusOK, serve(e, "/me", alice).Code)
	assert.Equal(t, http.StatusOK, serve(e, "/me", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(e, "/me", alice).Code)
	assert.Equal(t, http.StatusOK, serve(e, "/me", bob).Code)
	assert.True(t, mr.Exists("limiter:http:user:alice"))

	assert.Equal(t, http.StatusOK, serve(e, "/open", "").Code)
	assert.Equal(t, http.StatusOK, serve(e, "/open", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(e, "/open", "").Code, "anonymous callers share their IP bucket")

	mr.Close()
	assert.Equal(t, http.StatusOK, serve(e, "/me", alice).Code, "fails open without redis")
}
