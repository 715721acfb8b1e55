package auth

import (
	"net/http"
	"strings"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/gin-gonic/gin"
)

const (
	ClaimsKey = "claims"
	AdminType = "admin"
)

// RequireAuth rejects requests without a valid bearer token and stores the
// claims on the gin context.
func RequireAuth(j *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			Unauthorized(c)
			return
		}

		claims, err := j.ValidateToken(parts[1])
		if err != nil {
			Unauthorized(c)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status": http.StatusUnauthorized,
		"error":  "Unauthorized",
	})
}

func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// CanAccess reports whether the token holder owns, rents or administers the
// device.
func (c *Claims) CanAccess(device *api.Device) bool {
	if c.Type == AdminType {
		return true
	}
	if c.UserID == "" {
		return false
	}
	return c.UserID == device.OwnerUser || c.UserID == device.RenterUser
}
