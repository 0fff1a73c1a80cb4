package respond

import "github.com/gin-gonic/gin"

// JSON writes a JSON response with the given status. Session reads feed
// client polling loops, so nothing the API returns may be served stale by an
// intermediary cache.
func JSON(c *gin.Context, status int, payload interface{}) {
	c.Header("Cache-Control", "no-store")
	c.JSON(status, payload)
}
