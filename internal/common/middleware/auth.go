package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/platform/botapi"
)

// Authenticator resolves request credentials to a user.
type Authenticator interface {
	UserFromToken(ctx context.Context, token string) (int64, error)
	Authenticate(ctx context.Context, initData string) (*botapi.AuthResponse, error)
}

// RequireAuth accepts "Bearer <session token>" or "tma <init data>" and
// stores the user id on the context.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, credentials, _ := strings.Cut(c.GetHeader("Authorization"), " ")
		credentials = strings.TrimSpace(credentials)

		var (
			userID int64
			err    error
		)
		switch strings.ToLower(scheme) {
		case "bearer":
			userID, err = auth.UserFromToken(c.Request.Context(), credentials)
		case "tma":
			var resp *botapi.AuthResponse
			if resp, err = auth.Authenticate(c.Request.Context(), credentials); err == nil {
				userID = resp.UserID
			}
		default:
			err = errors.New(errors.ErrCodeAuthExpired, botapi.ServerErrNoToken)
		}
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(keyUserID, userID)
		c.Next()
	}
}
