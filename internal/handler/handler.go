// Package handler holds the helpers shared by the HTTP handlers in its subpackages.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/middleware"
	"github.com/jwalitptl/crm-api/pkg/httputil"
)

// BindJSON decodes the request body into v and writes a 400 when it does not
// decode or validate.
func BindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if details := middleware.ValidationErrors(err); details != nil {
			httputil.RespondWithBadRequest(c, "validation failed", details)
		} else {
			httputil.RespondWithBadRequest(c, err.Error(), nil)
		}
		return false
	}
	return true
}

// ParseID parses the named path parameter as a uuid and writes a 400 when it is not one.
func ParseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithBadRequest(c, "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// Owner returns the authenticated owner or writes a 401.
func Owner(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.OwnerID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.Response{
			Error: &httputil.Error{Code: http.StatusUnauthorized, Message: "unauthorized"},
		})
		return uuid.Nil, false
	}
	return id, true
}
