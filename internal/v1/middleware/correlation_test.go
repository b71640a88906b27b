package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typedash/realtime/internal/v1/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCorrelationID_MintsOneWhenMissing(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationID())

	r.GET("/test", func(c *gin.Context) {
		ctxVal, exists := c.Get(string(logging.CorrelationIDKey))
		require.True(t, exists)
		assert.NotEmpty(t, ctxVal)

		// The request context carries the same ID for the logger.
		fromCtx, ok := c.Request.Context().Value(logging.CorrelationIDKey).(string)
		require.True(t, ok)
		assert.Equal(t, ctxVal, fromCtx)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotEmpty(t, resp.Header().Get(HeaderXCorrelationID))
}

func TestCorrelationID_HonorsCallerProvidedID(t *testing.T) {
	r := gin.New()
	r.Use(CorrelationID())

	const existingID = "handshake-trace-123"

	r.GET("/test", func(c *gin.Context) {
		ctxVal, exists := c.Get(string(logging.CorrelationIDKey))
		require.True(t, exists)
		assert.Equal(t, existingID, ctxVal)

		fromCtx, ok := c.Request.Context().Value(logging.CorrelationIDKey).(string)
		require.True(t, ok)
		assert.Equal(t, existingID, fromCtx)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXCorrelationID, existingID)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, existingID, resp.Header().Get(HeaderXCorrelationID))
}
