// Package middleware holds the Gin middleware shared by the HTTP surface.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/typedash/realtime/internal/v1/logging"
)

// HeaderXCorrelationID carries the correlation ID on requests and responses.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID tags every request with a correlation ID. The caller's ID is
// honored when present so a handshake can be traced across services;
// otherwise one is minted here. The ID is echoed on the response, stored on
// the Gin context, and threaded into the request context so the structured
// logger picks it up for the lifetime of the connection.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(HeaderXCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}

		c.Header(HeaderXCorrelationID, cid)
		c.Set(string(logging.CorrelationIDKey), cid)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, cid)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
