package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/superkabe/healthstack/internal/utils"
)

// CustomContextMiddleware copies the tenant and request id into the request context.
func CustomContextMiddleware(appSource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.WithCustomContextFromGinRequest(c, appSource)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
