package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	mailbox "github.com/rbaliyan/workspace-mailbox"
	"github.com/rbaliyan/workspace-mailbox/internal/api/http/handler"
)

// CallerKey is the gin context key holding the authenticated caller.
const CallerKey = "caller"

// TokenVerifier turns a bearer token into a caller.
type TokenVerifier interface {
	Verify(token string) (mailbox.Caller, error)
}

// JWTAuth requires a bearer token and attaches the caller to the request
// context, where the mailbox authorizer finds it.
func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenStr string
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenStr = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		}

		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "missing access token",
			})
			return
		}

		caller, err := verifier.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "invalid or expired token",
			})
			return
		}

		c.Set(CallerKey, caller)
		c.Request = c.Request.WithContext(mailbox.ContextWithCaller(c.Request.Context(), caller))

		c.Next()
	}
}
