package middleware

import (
	"strings"

	"persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/jwt"
	"persona-ritual/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const userIDKey = "userId"

// JWTAuthMiddleware checks that the request has a valid JWT and adds the user to the context
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.Error(errors.Unauthenticated("Authorization header is required"))
			c.Abort()
			return
		}
		token = strings.TrimPrefix(token, "Bearer ")

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Warn("Invalid JWT token", "error", err.Error())
			c.Error(errors.Unauthenticated("Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set(userIDKey, claims.User())
		c.Next()
	}
}

// UserID returns the authenticated user set by JWTAuthMiddleware
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(userIDKey)
	return id, id != ""
}
