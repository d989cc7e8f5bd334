package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/princinho/mocreatives/database"
	"github.com/princinho/mocreatives/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store is the identity persistence the core relies on. Uniqueness of email
// and of the superadmin role must be enforced by the implementation.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error)
	FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, id bson.ObjectID, patch models.UserPatch) (*models.User, error)
	Delete(ctx context.Context, id bson.ObjectID) error
	SetResetToken(ctx context.Context, id bson.ObjectID, hash string, expiry time.Time) error
	ClearResetToken(ctx context.Context, id bson.ObjectID, hash string) error
	ConsumeResetToken(ctx context.Context, hash string, now time.Time, credentialHash string) (*models.User, error)
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

type Notifier interface {
	SendCredentials(ctx context.Context, email, password, name string) error
	SendResetLink(ctx context.Context, email, name, resetURL string) error
}

// PhotoStore holds profile photos and returns their public URL.
type PhotoStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, publicURL string) error
}

type Options struct {
	ClientURL          string
	ResetTTL           time.Duration
	ResetEligibleRoles models.RoleSet
	Clock              Clock
	Photos             PhotoStore
	Logger             logrus.FieldLogger
}

type Service struct {
	store      Store
	hasher     PasswordHasher
	signer     TokenSigner
	notifier   Notifier
	photos     PhotoStore
	clock      Clock
	log        logrus.FieldLogger
	clientURL  string
	resetTTL   time.Duration
	resetRoles models.RoleSet
	dummyHash  string
}

// Session is a freshly minted session token.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

type RegisterInput struct {
	Name  string
	Email string
	Role  models.Role
}

type RegisterResult struct {
	User                 *models.User
	CredentialsDelivered bool
}

func NewService(store Store, hasher PasswordHasher, signer TokenSigner, notifier Notifier, opts Options) (*Service, error) {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	if opts.ResetEligibleRoles == 0 {
		opts.ResetEligibleRoles = models.NewRoleSet(models.RoleSuperAdmin, models.RoleAdmin)
	}
	// compared against when the email is unknown so both login failures cost the same
	dummy, err := hasher.Hash("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &Service{
		store:      store,
		hasher:     hasher,
		signer:     signer,
		notifier:   notifier,
		photos:     opts.Photos,
		clock:      opts.Clock,
		log:        opts.Logger,
		clientURL:  strings.TrimRight(opts.ClientURL, "/"),
		resetTTL:   opts.ResetTTL,
		resetRoles: opts.ResetEligibleRoles,
		dummyHash:  dummy,
	}, nil
}

// Register creates an identity with a generated password that is mailed to
// the new user and never returned.
func (s *Service) Register(ctx context.Context, requestor *models.User, in RegisterInput) (*RegisterResult, error) {
	if requestor == nil || requestor.Role != models.RoleSuperAdmin {
		return nil, ErrForbidden
	}
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := models.RoleAdmin
	if in.Role != "" {
		if role, err = models.ParseRole(string(in.Role)); err != nil {
			return nil, invalid("role", err.Error())
		}
	}

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateIdentity
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, storeError(err)
	}

	password, err := GeneratePassword()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	user := &models.User{
		Name:                  name,
		Email:                 email,
		CredentialHash:        hash,
		Role:                  role,
		PasswordResetRequired: true,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, storeError(err)
	}

	res := &RegisterResult{User: sanitize(user), CredentialsDelivered: true}
	if err := s.notifier.SendCredentials(ctx, user.Email, password, user.Name); err != nil {
		res.CredentialsDelivered = false
		s.log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("credentials email not delivered")
	}
	s.log.WithFields(logrus.Fields{"user_id": user.ID.Hex(), "role": user.Role}).Info("identity registered")
	return res, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			_ = s.hasher.Compare(s.dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, storeError(err)
	}
	if err := s.hasher.Compare(user.CredentialHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if user.PasswordResetRequired {
		return nil, ErrResetRequired
	}
	return s.mint(user, s.clock.Now())
}

// RequestPasswordReset answers nil for unknown or ineligible emails.
func (s *Service) RequestPasswordReset(ctx context.Context, rawEmail string) error {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return storeError(err)
	}
	if !s.resetRoles.Contains(user.Role) {
		return nil
	}

	plain, hash, err := NewResetTicket()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	expiry := s.clock.Now().Add(s.resetTTL)
	if err := s.store.SetResetToken(ctx, user.ID, hash, expiry); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return storeError(err)
	}

	resetURL := fmt.Sprintf("%s/reset-password/%s", s.clientURL, plain)
	if err := s.notifier.SendResetLink(ctx, user.Email, user.Name, resetURL); err != nil {
		if cerr := s.store.ClearResetToken(ctx, user.ID, hash); cerr != nil {
			s.log.WithError(cerr).WithField("user_id", user.ID.Hex()).Error("rollback reset ticket")
		}
		s.log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("reset email not delivered")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Service) ConsumeReset(ctx context.Context, token, newPassword string) (*Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	if err := validatePassword("password", newPassword); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	now := s.clock.Now()
	user, err := s.store.ConsumeResetToken(ctx, HashResetToken(token), now, hash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, storeError(err)
	}
	s.log.WithField("user_id", user.ID.Hex()).Info("password reset completed")
	return s.mint(user, now)
}

func (s *Service) ChangePassword(ctx context.Context, id bson.ObjectID, currentPassword, newPassword string) (*Session, error) {
	if err := validatePassword("newPassword", newPassword); err != nil {
		return nil, err
	}
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if err := s.hasher.Compare(user.CredentialHash, currentPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := s.clock.Now()
	cleared := false
	updated, err := s.store.Update(ctx, id, models.UserPatch{
		CredentialHash:        &hash,
		PasswordResetRequired: &cleared,
		CredentialChangedAt:   &now,
		ClearResetToken:       true,
	})
	if err != nil {
		return nil, storeError(err)
	}
	s.log.WithField("user_id", id.Hex()).Info("password changed")
	return s.mint(updated, now)
}

func (s *Service) mint(user *models.User, now time.Time) (*Session, error) {
	token, exp, err := s.signer.Sign(user.ID.Hex(), now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return &Session{Token: token, ExpiresAt: exp, User: sanitize(user)}, nil
}

// sanitize returns a copy without credential or reset material.
func sanitize(u *models.User) *models.User {
	c := *u
	c.CredentialHash = ""
	c.ResetTokenHash = ""
	c.ResetTokenExpiry = nil
	return &c
}

// storeError translates store failures into core error kinds.
func storeError(err error) error {
	var dup *database.DuplicateKeyError
	switch {
	case errors.As(err, &dup):
		if dup.Field == database.FieldRole {
			return ErrSuperAdminExists
		}
		return ErrDuplicateIdentity
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
