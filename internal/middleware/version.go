package middleware

import (
	"github.com/gin-gonic/gin"
)

const HeaderAPIVersion = "X-API-Version"

// APIVersion stamps every response of the group with the API version it was served by.
func APIVersion(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, version)
		c.Next()
	}
}
