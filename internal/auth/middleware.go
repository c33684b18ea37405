// Package auth resolves control-API callers. Real session handling lives in
// the web application; this service only maps bearer access tokens to user
// ids so handlers can enforce sandbox ownership.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userContextKey = "userID"

func Middleware(accessTokens map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")

		value, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})

			return
		}

		userID, ok := accessTokens[value]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})

			return
		}

		c.Set(userContextKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userContextKey)
}
