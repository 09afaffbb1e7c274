package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs every request through logrus and tags the New Relic
// transaction, when one is running, with the order the request addresses.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return func(c *gin.Context) {
		start := time.Now()

		if orderID := orderParam(c); orderID != "" {
			if txn := nrgin.Transaction(c); txn != nil {
				txn.AddAttribute("order_id", orderID)
			}
		}

		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithError(c.Errors.Last().Err)
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}

func orderParam(c *gin.Context) string {
	if id := c.Param("order_id"); id != "" {
		return id
	}
	if strings.HasPrefix(c.FullPath(), "/v1/orders/:id") {
		return c.Param("id")
	}
	return ""
}
