package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kepler-vision-go/internal/logging"
)

// Permissions checked by the API-key gate.
const (
	PermJobsRead      = "jobs:read"
	PermJobsWrite     = "jobs:write"
	PermArtifactsRead = "artifacts:read"
)

// Roles understood in PIPELINE_API_KEYS.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Anonymous is the requester recorded when the gate is disabled.
const Anonymous = "anonymous"

var rolePermissions = map[string]map[string]bool{
	RoleAdmin:    {PermJobsRead: true, PermJobsWrite: true, PermArtifactsRead: true},
	RoleOperator: {PermJobsRead: true, PermJobsWrite: true, PermArtifactsRead: true},
	RoleViewer:   {PermJobsRead: true, PermArtifactsRead: true},
}

// Allowed reports whether role grants permission.
func Allowed(role, permission string) bool {
	return rolePermissions[strings.ToLower(role)][permission]
}

// APIKey guards a route with permission. keys maps an API key to its role; with no keys
// configured every caller is an anonymous admin. The role becomes the requester
// identity.
func APIKey(keys map[string]string, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Set(logging.RequesterKey, Anonymous)
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if key == "" {
			deny(c, http.StatusUnauthorized, "Missing X-API-Key header")
			return
		}
		role, ok := keys[key]
		if !ok {
			deny(c, http.StatusUnauthorized, "Invalid API key")
			return
		}
		c.Set(logging.RequesterKey, role)
		if !Allowed(role, permission) {
			logging.Warn(c).Str("permission", permission).Msg("Permission denied")
			deny(c, http.StatusForbidden, fmt.Sprintf("Role '%s' is not allowed to perform '%s'", role, permission))
			return
		}
		c.Next()
	}
}

func deny(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{
		"detail":     detail,
		"request_id": c.GetString(logging.RequestIDKey),
	})
}
