package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/superkabe/healthstack/internal/utils"
)

// OrganizationMiddleware requires a UUID organization id header and stores it
// as the request tenant.
func OrganizationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		organizationID := strings.TrimSpace(c.GetHeader(utils.OrganizationIdHeader))
		if organizationID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": utils.OrganizationIdHeader + " header is required"})
			return
		}
		if _, err := uuid.Parse(organizationID); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": utils.OrganizationIdHeader + " must be a uuid"})
			return
		}

		c.Set("Tenant", organizationID)
		c.Next()
	}
}
