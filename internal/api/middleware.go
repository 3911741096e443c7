package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hazard-alert-service/internal/logging"
)

const requestIDHeader = "X-Request-ID"

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{"request_id": reqID})
		if len(c.Errors) > 0 {
			entry.Warnf("Request: %s %s, Status: %d, Latency: %v, Errors: %s", method, path, status, latency, c.Errors.String())
			return
		}
		entry.Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}
