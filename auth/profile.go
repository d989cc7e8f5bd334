package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/princinho/mocreatives/database"
	"github.com/princinho/mocreatives/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ProfileInput lists the requested changes. Nil fields are left untouched.
type ProfileInput struct {
	Name         *string
	LinkedinLink *string
	Email        *string
	Role         *models.Role
}

type PhotoUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

func (s *Service) UpdateProfile(ctx context.Context, actor *models.User, targetID bson.ObjectID, in ProfileInput, photo *PhotoUpload) (*models.User, error) {
	if err := AuthorizeSelfOrPrivileged(actor, targetID); err != nil {
		return nil, err
	}
	if err := AuthorizeProfileChange(actor, in); err != nil {
		return nil, err
	}
	target, err := s.store.FindByID(ctx, targetID)
	if err != nil {
		return nil, storeError(err)
	}

	var patch models.UserPatch
	if in.Name != nil {
		name, err := normalizeName(*in.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &name
	}
	if in.LinkedinLink != nil {
		link, err := normalizeLinkedin(*in.LinkedinLink)
		if err != nil {
			return nil, err
		}
		patch.LinkedinLink = &link
	}
	if in.Email != nil {
		email, err := NormalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		if email != target.Email {
			if _, err := s.store.FindByEmail(ctx, email); err == nil {
				return nil, ErrDuplicateIdentity
			} else if !errors.Is(err, database.ErrNotFound) {
				return nil, storeError(err)
			}
			patch.Email = &email
		}
	}
	if in.Role != nil {
		role, err := models.ParseRole(string(*in.Role))
		if err != nil {
			return nil, invalid("role", err.Error())
		}
		// the superadmin cannot be demoted, the system would be left without one
		if target.Role == models.RoleSuperAdmin && role != models.RoleSuperAdmin {
			return nil, ErrForbidden
		}
		if role != target.Role {
			patch.Role = &role
		}
	}

	var uploaded string
	if photo != nil {
		if s.photos == nil {
			return nil, invalid("photo", "photo uploads are disabled")
		}
		uploaded, err = s.photos.Upload(ctx, s.photoKey(targetID, photo.Filename), photo.ContentType, photo.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: upload photo: %v", ErrInternal, err)
		}
		patch.ProfilePhoto = &uploaded
	}

	if patch.IsEmpty() {
		return sanitize(target), nil
	}

	updated, err := s.store.Update(ctx, targetID, patch)
	if err != nil {
		if uploaded != "" {
			s.deletePhoto(ctx, uploaded)
		}
		return nil, storeError(err)
	}
	if uploaded != "" && target.ProfilePhoto != "" {
		s.deletePhoto(ctx, target.ProfilePhoto)
	}
	s.log.WithFields(logrus.Fields{"user_id": targetID.Hex(), "actor_id": actor.ID.Hex()}).Info("profile updated")
	return sanitize(updated), nil
}

// DeleteIdentity removes an admin. The superadmin is never deletable.
func (s *Service) DeleteIdentity(ctx context.Context, actor *models.User, targetID bson.ObjectID) error {
	if err := Authorize(actor, SuperAdminOnly); err != nil {
		return err
	}
	target, err := s.store.FindByID(ctx, targetID)
	if err != nil {
		return storeError(err)
	}
	if target.Role == models.RoleSuperAdmin {
		return ErrForbidden
	}
	if err := s.store.Delete(ctx, targetID); err != nil {
		return storeError(err)
	}
	if target.ProfilePhoto != "" {
		s.deletePhoto(ctx, target.ProfilePhoto)
	}
	s.log.WithFields(logrus.Fields{"user_id": targetID.Hex(), "actor_id": actor.ID.Hex()}).Info("identity deleted")
	return nil
}

// SeedSuperAdmin creates the bootstrap superadmin. It reports false when the
// email or the superadmin role is already taken.
func (s *Service) SeedSuperAdmin(ctx context.Context, name, email, password string) (bool, error) {
	n, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	e, err := NormalizeEmail(email)
	if err != nil {
		return false, err
	}
	if err := validatePassword("password", password); err != nil {
		return false, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	err = s.store.Create(ctx, &models.User{
		Name:           n,
		Email:          e,
		CredentialHash: hash,
		Role:           models.RoleSuperAdmin,
	})
	if errors.Is(err, database.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, storeError(err)
	}
	return true, nil
}

func (s *Service) photoKey(id bson.ObjectID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("profiles/%s/%d-%s%s", id.Hex(), s.clock.Now().Unix(), uuid.NewString(), ext)
}

func (s *Service) deletePhoto(ctx context.Context, url string) {
	if s.photos == nil {
		return
	}
	if err := s.photos.Delete(ctx, url); err != nil {
		s.log.WithError(err).WithField("photo", url).Warn("delete profile photo")
	}
}
