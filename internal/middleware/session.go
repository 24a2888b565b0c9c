package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
)

// CheckActiveSession rejects tokens whose JTI is no longer the user's active
// session: the user logged in elsewhere or logged out.
func CheckActiveSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := authService.ValidateSession(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			if !errors.Is(err, service.ErrSessionRevoked) {
				log.Error().Err(err).Int("user_id", claims.UserID).Msg("Session check failed")
				response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
				return
			}
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Next()
	}
}
