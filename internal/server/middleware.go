package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/seatbroker/internal/observability/context"
)

const HeaderAdminToken = "X-Admin-Token"

// AdminRequired guards the operator routes with the static admin token. An
// unset token disables the admin surface entirely.
func (s *Server) AdminRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.AdminToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrNotFound)
			return
		}
		got := []byte(strings.TrimSpace(c.GetHeader(HeaderAdminToken)))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "admin", "token")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
