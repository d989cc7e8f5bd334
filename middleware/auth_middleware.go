package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/princinho/mocreatives/auth"
	"github.com/princinho/mocreatives/models"
	"github.com/princinho/mocreatives/utils"
)

const userKey = "user"

type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*models.User, error)
}

// AuthMiddleware resolves the bearer token to an identity and stores it in
// the context together with its id and role.
func AuthMiddleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			utils.RespondError(c, auth.ErrUnauthenticated)
			return
		}

		user, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		c.Set(userKey, user)
		c.Set("userID", user.ID.Hex())
		c.Set("role", string(user.Role))
		c.Next()
	}
}

// RequireRoles rejects identities whose role is outside roles.
func RequireRoles(roles models.RoleSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := CurrentUser(c)
		if err := auth.Authorize(user, roles); err != nil {
			utils.RespondError(c, err)
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}
