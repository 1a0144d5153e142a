package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/services"
)

type adminClaimsKey struct{}

type AuthMiddleware struct {
	log         *logger.Logger
	authService services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, authService: authService}
}

// RequireAdmin accepts only bearer tokens carrying the admin role.
func (am *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		claims, err := am.authService.VerifyAdminToken(tokenString)
		if err != nil {
			am.log.Warn("admin token rejected", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"message": "forbidden", "code": "forbidden"},
			})
			return
		}
		ctx := context.WithValue(c.Request.Context(), adminClaimsKey{}, claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminClaims returns the claims RequireAdmin attached, or nil.
func AdminClaims(ctx context.Context) *services.Claims {
	c, _ := ctx.Value(adminClaimsKey{}).(*services.Claims)
	return c
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
