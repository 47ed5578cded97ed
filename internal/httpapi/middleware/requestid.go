package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/worldline/internal/idgen"
)

const RequestIDHeader = "X-Request-Id"

// RequestID tags every request with an id so log lines for one request
// can be correlated, even without a structured logging library.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = idgen.NewUUID()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
