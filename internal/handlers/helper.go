package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ParseUintParam reads a positive id from the path. It writes a 400 response
// and returns false when the value is not a valid id.
func ParseUintParam(c *gin.Context, param string) (uint, bool) {
	idStr := strings.TrimSpace(c.Param(param))
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "must be a positive integer",
		})
		return 0, false
	}
	return uint(id), true
}

// ParseIntParam reads a non-negative index from the path.
func ParseIntParam(c *gin.Context, param string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(c.Param(param)))
	if err != nil || v < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "must be a non-negative integer",
		})
		return 0, false
	}
	return v, true
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
