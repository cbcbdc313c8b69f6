package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/ping", handlers...)
	return r
}

func serveRequest(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndCapability(t *testing.T) {
	tokens := service.NewTokenService("secret")
	lecturerToken, err := tokens.IssueToken("lect-1", models.RoleLecturer, time.Hour)
	require.NoError(t, err)
	coordToken, err := tokens.IssueToken("coord-1", models.RoleCoordinator, time.Hour)
	require.NoError(t, err)

	r := newRouter(JWT(tokens), RequireCapability(models.CanCreateSchedule))

	assert.Equal(t, http.StatusUnauthorized, serveRequest(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serveRequest(r, "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serveRequest(r, "Bearer garbage").Code)
	assert.Equal(t, http.StatusForbidden, serveRequest(r, "Bearer "+lecturerToken).Code)
	assert.Equal(t, http.StatusNoContent, serveRequest(r, "Bearer "+coordToken).Code)
}

func TestRequireCapabilityWithoutJWT(t *testing.T) {
	r := newRouter(RequireCapability(models.CanVerifyAudit))
	assert.Equal(t, http.StatusUnauthorized, serveRequest(r, "").Code)
}

func TestLocalRateLimiter(t *testing.T) {
	limiter := NewRateLimiter("attendance", 2, nil, nil)
	r := newRouter(limiter.Middleware())

	assert.Equal(t, http.StatusNoContent, serveRequest(r, "").Code)
	assert.Equal(t, http.StatusNoContent, serveRequest(r, "").Code)
	w := serveRequest(r, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

type fakeCounter struct {
	hits    int64
	enabled bool
	err     error
}

func (f *fakeCounter) Enabled() bool { return f.enabled }

func (f *fakeCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return atomic.AddInt64(&f.hits, 1), 42 * time.Second, nil
}

func TestRedisRateLimiterAndFallback(t *testing.T) {
	counter := &fakeCounter{enabled: true}
	r := newRouter(NewRateLimiter("attendance", 1, counter, nil).Middleware())

	assert.Equal(t, http.StatusNoContent, serveRequest(r, "").Code)
	w := serveRequest(r, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))

	broken := &fakeCounter{enabled: true, err: errors.New("connection refused")}
	r = newRouter(NewRateLimiter("attendance", 1, broken, nil).Middleware())
	assert.Equal(t, http.StatusNoContent, serveRequest(r, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serveRequest(r, "").Code)
}

func TestTokenBucketRefills(t *testing.T) {
	b := newTokenBucket(1, 60)
	now := time.Now()
	assert.True(t, b.allow("k", now))
	assert.False(t, b.allow("k", now))
	assert.True(t, b.allow("k", now.Add(time.Second)))
}

func TestTokenBucketEvictsIdleBuckets(t *testing.T) {
	b := newTokenBucket(2, 60)
	start := time.Now()
	for i := 0; i < 50; i++ {
		assert.True(t, b.allow(fmt.Sprintf("client-%d", i), start))
	}
	assert.True(t, b.allow("busy", start))
	assert.True(t, b.allow("busy", start))
	assert.False(t, b.allow("busy", start.Add(500*time.Millisecond)))
	assert.Len(t, b.state, 51)

	later := start.Add(2 * time.Minute)
	assert.True(t, b.allow("busy", later))
	assert.Len(t, b.state, 1)
	assert.True(t, b.allow("client-0", later))
	assert.True(t, b.allow("client-0", later))
	assert.False(t, b.allow("client-0", later))
}

func TestMetricsMiddlewareRecordsRoute(t *testing.T) {
	metrics := service.NewMetricsService()
	r := newRouter(Metrics(metrics))
	serveRequest(r, "")

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "http_requests_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAuditContextCarriesClientMeta(t *testing.T) {
	var seen context.Context
	r := gin.New()
	r.GET("/ping", AuditContext(), func(c *gin.Context) {
		seen = c.Request.Context()
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("User-Agent", "attendance-app/2.1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.NotEqual(t, context.Background(), seen)
}
