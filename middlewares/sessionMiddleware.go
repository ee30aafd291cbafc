package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/utils"
)

const (
	HeaderCorrelationId  = "X-Correlation-Id"
	HeaderRequestId      = "X-Request-Id"
	HeaderUser           = "X-User"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// RequestContext copies the caller identity, correlation id and idempotency
// key from the headers into the request context. The correlation id is
// echoed back so clients can quote it.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		correlationId := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if correlationId == "" {
			correlationId = strings.TrimSpace(c.GetHeader(HeaderRequestId))
		}
		if correlationId == "" || len(correlationId) > 64 {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header(HeaderCorrelationId, correlationId)

		if user := strings.TrimSpace(c.GetHeader(HeaderUser)); user != "" {
			ctx = utils.SetUserNameInContext(ctx, user)
		}
		if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
			ctx = utils.SetIdempotencyKeyInContext(ctx, key)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SessionMiddleware resolves a session token to its user through redis.
// Requests without a token pass through; an unknown token is rejected.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue(c.Request.Context(), "Token:"+token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserNameInContext(c.Request.Context(), username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
