package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taskforge/pkg/auth"
)

const (
	// AuthHeaderKey is the standard Authorization header.
	AuthHeaderKey = "Authorization"
	// APIKeyHeaderKey is the custom API key header.
	APIKeyHeaderKey = "X-API-Key"
	// ContextUserKey stores the authenticated claims on the request.
	ContextUserKey = "user"
	// ContextRequestIDKey stores the request ID.
	ContextRequestIDKey = "request_id"
)

// AuthConfig holds authentication middleware configuration.
type AuthConfig struct {
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	SkipPaths   []string // paths that bypass authentication
}

// AuthMiddleware validates a JWT bearer token or an API key.
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if matchPath(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		if claims := tryJWTAuth(c, config.JWTService); claims != nil {
			c.Set(ContextUserKey, claims)
			c.Next()
			return
		}
		if claims := tryAPIKeyAuth(c, config.APIKeyStore); claims != nil {
			c.Set(ContextUserKey, claims)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
			"hint":  "provide Bearer token or X-API-Key header",
		})
	}
}

func tryJWTAuth(c *gin.Context, jwtService *auth.JWTService) *auth.Claims {
	if jwtService == nil {
		return nil
	}
	authHeader := c.GetHeader(AuthHeaderKey)
	if authHeader == "" {
		return nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil
	}
	claims, err := jwtService.ValidateToken(parts[1])
	if err != nil {
		return nil
	}
	return claims
}

func tryAPIKeyAuth(c *gin.Context, store auth.APIKeyStore) *auth.Claims {
	if store == nil {
		return nil
	}
	apiKey := c.GetHeader(APIKeyHeaderKey)
	if apiKey == "" {
		return nil
	}
	info, err := store.ValidateKey(c.Request.Context(), apiKey)
	if err != nil {
		return nil
	}
	return &auth.Claims{
		UserID:   info.OwnerID,
		Username: info.Name,
		Role:     info.Role,
	}
}

// GetUserFromContext retrieves the authenticated claims.
func GetUserFromContext(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// RequireRole aborts requests below the required role level.
func RequireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetUserFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		if !claims.Role.HasPermission(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": required,
				"current":  claims.Role,
			})
			return
		}
		c.Next()
	}
}

// matchPath matches exact paths and trailing-wildcard patterns like /api/*.
func matchPath(path, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(path, prefix)
	}
	return path == pattern
}
