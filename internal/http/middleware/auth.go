package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	AdminKeyHeader      = "X-Admin-Key"
	WebhookSecretHeader = "X-Webhook-Secret"
)

// AdminKey guards the admin API. An empty key disables the check.
func AdminKey(required string) gin.HandlerFunc {
	return sharedSecret(AdminKeyHeader, required, "Invalid admin key")
}

// WebhookSecret guards the inbound message webhook. An empty secret disables
// the check.
func WebhookSecret(required string) gin.HandlerFunc {
	return sharedSecret(WebhookSecretHeader, required, "Invalid webhook secret")
}

func sharedSecret(header, required, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if required == "" {
			c.Next()
			return
		}
		got := c.GetHeader(header)
		if subtle.ConstantTimeCompare([]byte(got), []byte(required)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": message,
				},
			})
			return
		}
		c.Next()
	}
}
