package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/raqeeb-app/raqeeb/pkg/errors"
	"github.com/raqeeb-app/raqeeb/pkg/response"
)

// TriggerAuth guards the pipeline trigger endpoints with a shared secret
// carried as a bearer token. The comparison is constant time. An empty
// configured secret rejects every request rather than opening the
// endpoints up.
func TriggerAuth(secret string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(secret))

	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(expected) == 0 || len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			unauthorized(c)
			return
		}

		token := []byte(strings.TrimSpace(authz[7:]))
		if subtle.ConstantTimeCompare(token, expected) != 1 {
			unauthorized(c)
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}
