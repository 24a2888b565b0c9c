package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/response"
)

// RequireRole lets the request through when the token carries one of roles.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}

		response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
	}
}

// RequireStaff admits teachers and admins.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !claims.Role.IsStaff() {
			response.AbortFail(c, http.StatusForbidden, response.ErrStaffAccessOnly)
			return
		}
		c.Next()
	}
}
