package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"negotiatex/auth"
	"negotiatex/pkg/logger"
)

// TokenVerifier checks a bearer token. auth.Service satisfies it.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Claims, error)
}

const claimsKey = "claims"

// Auth requires a valid bearer token and stores its claims on the context.
// The party role also goes on the request context for log lines.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims, err := verifier.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(logger.WithRole(c.Request.Context(), string(claims.Role)))

		c.Next()
	}
}

// RequireRole rejects callers whose token role is not listed. It must run
// after Auth.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Role not permitted"})
	}
}

// GetClaims returns the verified claims stored by Auth.
func GetClaims(c *gin.Context) (auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return auth.Claims{}, false
	}
	claims, ok := v.(auth.Claims)
	return claims, ok
}
