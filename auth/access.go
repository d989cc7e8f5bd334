package auth

import (
	"context"
	"errors"
	"time"

	"github.com/princinho/mocreatives/database"
	"github.com/princinho/mocreatives/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	SuperAdminOnly = models.NewRoleSet(models.RoleSuperAdmin)
	AnyAdmin       = models.NewRoleSet(models.RoleSuperAdmin, models.RoleAdmin)
)

// Authenticate resolves a bearer token to its identity. Tokens issued before
// the identity's last credential change are rejected, compared at the
// millisecond precision the store keeps.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*models.User, error) {
	if rawToken == "" {
		return nil, ErrUnauthenticated
	}
	now := s.clock.Now()
	claims, err := s.signer.Verify(rawToken, now)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	id, err := bson.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, storeError(err)
	}
	if user.CredentialChangedAt != nil && claims.IssuedAt.Before(user.CredentialChangedAt.Truncate(time.Millisecond)) {
		return nil, ErrUnauthenticated
	}
	if user.PasswordResetRequired {
		return nil, ErrResetRequired
	}
	return sanitize(user), nil
}

func Authorize(user *models.User, roles models.RoleSet) error {
	if user == nil || !roles.Contains(user.Role) {
		return ErrForbidden
	}
	return nil
}

// AuthorizeOwnership allows the superadmin or the resource owner. It is the
// check for owned content such as posts; no route here serves owned
// resources yet.
func AuthorizeOwnership(user *models.User, ownerID bson.ObjectID) error {
	if user == nil {
		return ErrForbidden
	}
	if user.Role == models.RoleSuperAdmin || user.ID == ownerID {
		return nil
	}
	return ErrForbidden
}

// AuthorizeSelfOrPrivileged lets an admin target only itself.
func AuthorizeSelfOrPrivileged(user *models.User, targetID bson.ObjectID) error {
	if user == nil {
		return ErrForbidden
	}
	switch user.Role {
	case models.RoleSuperAdmin:
		return nil
	case models.RoleAdmin:
		if user.ID == targetID {
			return nil
		}
	}
	return ErrForbidden
}

// AuthorizeProfileChange reserves email and role edits for the superadmin.
func AuthorizeProfileChange(user *models.User, in ProfileInput) error {
	if user == nil {
		return ErrForbidden
	}
	if (in.Email != nil || in.Role != nil) && user.Role != models.RoleSuperAdmin {
		return ErrForbidden
	}
	return nil
}
