package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"teamchat-backend/pkg/jwt"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/response"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID         = "user_id"
	ContextOrganizationID = "organization_id"
	ContextUsername       = "username"
	ContextRole           = "role"
)

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, claims *jwt.Claims) (bool, error)
}

// AuthMiddleware creates a Gin middleware that validates JWT tokens.
// The token is read from the Authorization header, or from the token query
// parameter for WebSocket upgrades where browsers cannot set headers.
// revocationChecker may be nil.
func AuthMiddleware(jwtManager *jwt.JWTManager, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
			c.Abort()
			return
		}

		if revocationChecker != nil {
			revoked, err := revocationChecker.IsTokenRevoked(c.Request.Context(), claims)
			if err != nil {
				// Fail open: signature and expiry already passed
				logger.Warn("Token revocation check failed", zap.Error(err))
			} else if revoked {
				response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Token revoked")
				c.Abort()
				return
			}
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextOrganizationID, claims.OrganizationID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.UserID.String()))
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || scheme != "Bearer" || token == "" {
			return "", false
		}
		return token, true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
