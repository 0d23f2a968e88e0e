package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatsFunc returns the JSON-encodable body of the health response.
type StatsFunc func() any

// Health returns a handler that always answers 200 with the current stats.
// Liveness of the consume loop is reported in the body, not the status code.
func Health(stats StatsFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body any = gin.H{}
		if stats != nil {
			body = stats()
		}
		c.JSON(http.StatusOK, body)
	}
}

// NotFound answers 404 with a plain-text body.
func NotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	}
}
