package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-writer/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingLimiter struct {
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

func (l *countingLimiter) Remaining(_ context.Context, key string, limit int, _ time.Duration) (int, error) {
	return max(limit-l.counts[key], 0), nil
}

func serve(engine *gin.Engine, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BlocksAfterLimit(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}}
	engine := gin.New()
	engine.POST("/v1/outlines",
		RateLimit(RateLimitConfig{Enabled: true, Limit: 2, Window: time.Minute}, limiter,
			ClientRouteKey(func(caller, route string) string { return caller + "|" + route })),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := serve(engine, http.MethodPost, "/v1/outlines", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := serve(engine, http.MethodPost, "/v1/outlines", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, limiter.counts, "192.0.2.1|/v1/outlines")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}, err: errors.New("redis down")}
	engine := gin.New()
	engine.POST("/x",
		RateLimit(RateLimitConfig{Enabled: true, Limit: 1}, limiter, ClientRouteKey(func(c, r string) string { return c + r })),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(engine, http.MethodPost, "/x", nil).Code)
	}
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	engine := gin.New()
	engine.POST("/x", RateLimit(RateLimitConfig{Enabled: false}, nil, nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodPost, "/x", nil).Code)
}

func TestRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	var fromLogCtx any
	engine.GET("/x", func(c *gin.Context) {
		fromLogCtx = c.Request.Context().Value(logger.RequestIDKey)
		c.Status(http.StatusOK)
	})

	w := serve(engine, http.MethodGet, "/x", http.Header{RequestIDHeader: {"req-123"}})
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", fromLogCtx)

	w = serve(engine, http.MethodGet, "/x", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery())
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(engine, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
