package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openclass/support-chat/internal/auth"
	"github.com/openclass/support-chat/internal/domain"
)

const identityKey = "identity"

// RequireAuth validates the bearer token and stores the identity in the
// request context.
func RequireAuth(validator *auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		identity, err := validator.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(identityKey, identity)
		c.Set("user_id", identity.ID)
		c.Set("username", identity.Name)
		c.Next()
	}
}

// GetIdentity extracts the authenticated identity from the Gin context.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}
