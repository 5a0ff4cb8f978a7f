package middleware

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"

	"deliveryerp/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim. Tokens are issued by the identity service.
const (
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleDispatcher = "dispatcher"
)

// AllRoles is every role that may read shared resources.
var AllRoles = []string{RoleAdmin, RoleAccountant, RoleDispatcher}

// Context keys set after a token is verified
const (
	ContextUserID   = "userID"
	ContextUserRole = "userRole"
)

var (
	secretMu  sync.RWMutex
	jwtSecret []byte
)

// SetJWTSecret overrides the secret read from JWT_SECRET.
func SetJWTSecret(secret string) {
	secretMu.Lock()
	defer secretMu.Unlock()
	jwtSecret = []byte(secret)
}

func GetJWTSecret() []byte {
	secretMu.RLock()
	secret := jwtSecret
	secretMu.RUnlock()
	if len(secret) > 0 {
		return secret
	}

	env := os.Getenv("JWT_SECRET")
	if env == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("FATAL: JWT_SECRET environment variable is required in production mode")
		}
		env = "default_super_secret_key" // development fallback only
	}
	return []byte(env)
}

var (
	errMissingToken = errors.New("Authorization is missing")
	errTokenFormat  = errors.New("Invalid authorization format. Expected 'Bearer <token>'")
)

// tokenFromRequest reads the access_token cookie and falls back to the Authorization header.
func tokenFromRequest(c *gin.Context) (string, error) {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token, nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errTokenFormat
	}
	return parts[1], nil
}

// ParseToken verifies an HMAC-signed token and returns its claims.
func ParseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return GetJWTSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// RequireRole Middleware validates the JWT token and checks if the user's role exists in the allowedRoles list
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
			return
		}

		claims, err := ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token: "+err.Error()))
			return
		}

		userRole, ok := claims["role"].(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Role not found in token"))
			return
		}

		if !roleAllowed(userRole, allowedRoles) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
			return
		}

		sub, _ := claims["sub"].(string)
		c.Set(ContextUserID, sub)
		c.Set(ContextUserRole, userRole)

		c.Next()
	}
}

func roleAllowed(role string, allowed []string) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}

// UserID returns the subject stored by RequireRole, or "" on unauthenticated routes.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
