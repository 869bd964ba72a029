package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edukite/campus-core-api/internal/models"
	"github.com/edukite/campus-core-api/internal/service"
)

// Audit records an audit trail entry after successful mutating requests.
// Entries go through the audit queue, so a slow or failing audit store
// never delays the response.
func Audit(audit *service.AuditService, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if audit == nil || c.Writer.Status() >= 400 {
			return
		}

		var actorID string
		if claims, ok := c.Get(ContextUserKey); ok {
			actorID = claims.(*models.JWTClaims).UserID
		}

		audit.Record(service.AuditEvent{
			ActorID:    actorID,
			Action:     action,
			Resource:   resource,
			ResourceID: c.Param("id"),
			Detail: map[string]interface{}{
				"path":    c.FullPath(),
				"method":  c.Request.Method,
				"status":  c.Writer.Status(),
				"latency": time.Since(start).Milliseconds(),
			},
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
	}
}
