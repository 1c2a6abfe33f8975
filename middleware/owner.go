package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"

	"document-context-platform/utils"
)

// OwnerIDHeader identifies the uploading party. Authentication proper is
// handled upstream; this layer only scopes operations to an owner.
const OwnerIDHeader = "X-Owner-ID"

const ownerIDKey = "owner_id"

var ownerIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// RequireOwner rejects requests without a well-formed owner identifier and
// stores it in the request context for handlers.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader(OwnerIDHeader)
		if !ownerIDRe.MatchString(ownerID) {
			utils.RespondWithForbidden(c, "A valid owner identifier is required")
			c.Abort()
			return
		}
		c.Set(ownerIDKey, ownerID)
		c.Next()
	}
}

// GetOwnerID retrieves the owner identifier set by RequireOwner.
func GetOwnerID(c *gin.Context) string {
	if v, exists := c.Get(ownerIDKey); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
