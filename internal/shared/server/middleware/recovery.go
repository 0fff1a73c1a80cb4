package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/shared/server/respond"
	"optimizer-backend/internal/shared/telemetry"
)

// Recovery turns panics into standardized 500 responses. A panic after the
// stream headers went out cannot produce the JSON body anymore; the abort
// then just drops the connection, which clients treat as a transport error.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				telemetry.Error("http.panic", map[string]any{
					"request_id": RequestIDFromContext(c),
					"user_id":    c.GetString("userId"),
					"error":      rec,
					"stack":      string(debug.Stack()),
					"path":       c.Request.URL.Path,
					"method":     c.Request.Method,
				})
				respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
				c.Abort()
			}
		}()
		c.Next()
	}
}
