package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery turns a panic inside a handler into a 500 envelope instead of
// killing the connection, same shape the teacher's router.go wires in
// place of gin.Recovery().
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic_recovered request_id=%v path=%s err=%v", c.Value("request_id"), c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code": 1, "message": "internal error", "data": nil, "error": "internal_error",
				})
			}
		}()
		c.Next()
	}
}
