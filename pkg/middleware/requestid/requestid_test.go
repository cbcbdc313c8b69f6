package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(t *testing.T, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(headerKey, header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddlewareReusesClientID(t *testing.T) {
	rec, seen := serve(t, "client-123")
	assert.Equal(t, "client-123", seen)
	assert.Equal(t, "client-123", rec.Header().Get(headerKey))
}

func TestMiddlewareReplacesOversizedID(t *testing.T) {
	rec, seen := serve(t, strings.Repeat("x", maxLength+1))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(headerKey))
}
