package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// IdentityMiddleware reads the authenticated user id from the X-User-ID
// header. Identity is established upstream by the platform gateway; the
// exchange trusts the header and only validates its shape.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing X-User-ID header",
				"code":    "UNAUTHORIZED",
			})
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid X-User-ID header",
				"code":    "UNAUTHORIZED",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// GetUserID returns the user id stored by IdentityMiddleware. Zero when the
// middleware did not run.
func GetUserID(c *gin.Context) int64 {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0
	}
	id, _ := v.(int64)
	return id
}
