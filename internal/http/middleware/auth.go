package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/saadaziz/identity-backend/internal/domain"
	"github.com/saadaziz/identity-backend/internal/service"
)

const claimsKey = "tokenClaims"

// Auth validates the Authorization header and attaches the verified claims.
type Auth struct {
	AuthService *service.AuthService
}

// NewAuth builds the bearer middleware.
func NewAuth(auth *service.AuthService) *Auth {
	return &Auth{AuthService: auth}
}

// ValidateJWT ensures the request carries a valid bearer token issued by this service.
// The audience is not checked; any relying party may call the endpoints it guards.
func (m *Auth) ValidateJWT(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Header("WWW-Authenticate", `Bearer`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.Header("WWW-Authenticate", `Bearer`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	claims, err := m.AuthService.VerifyToken(c.Request.Context(), strings.TrimSpace(parts[1]), "")
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

// GetClaims returns the claims attached by ValidateJWT.
func GetClaims(c *gin.Context) (domain.TokenClaims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return domain.TokenClaims{}, false
	}
	claims, ok := value.(domain.TokenClaims)
	return claims, ok
}
