package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/eventbridge/logger"
)

// RequestLogger returns a Gin middleware that logs every request with
// method, path, status and duration. Probe traffic on /health is logged at
// debug level only.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":             c.Request.Method,
			"path":               c.Request.URL.Path,
			"status":             status,
			logger.FieldDuration: time.Since(start).Milliseconds(),
		}

		switch {
		case c.Request.URL.Path == "/health" && status < 400:
			log.Debug("Request completed", fields)
		case status >= 500:
			log.Error("Request completed", fields)
		case status >= 400:
			log.Warn("Request completed", fields)
		default:
			log.Info("Request completed", fields)
		}
	}
}
