package database

import (
	"context"
	"sync"
	"time"

	"github.com/princinho/mocreatives/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryUserStore keeps identities in process memory. It enforces the same
// constraints as UserStore's indexes; every check-and-write runs under one lock.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[bson.ObjectID]*models.User
	now   func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users: make(map[bson.ObjectID]*models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func clone(u *models.User) *models.User {
	c := *u
	if u.ResetTokenExpiry != nil {
		t := *u.ResetTokenExpiry
		c.ResetTokenExpiry = &t
	}
	if u.CredentialChangedAt != nil {
		t := *u.CredentialChangedAt
		c.CredentialChangedAt = &t
	}
	return &c
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) FindByID(_ context.Context, id bson.ObjectID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

func (s *MemoryUserStore) FindByResetTokenHash(_ context.Context, hash string, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.pendingLocked(hash, now); u != nil {
		return clone(u), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) pendingLocked(hash string, now time.Time) *models.User {
	if hash == "" {
		return nil
	}
	for _, u := range s.users {
		if u.ResetTokenHash == hash && u.ResetTokenExpiry != nil && u.ResetTokenExpiry.After(now) {
			return u
		}
	}
	return nil
}

// conflictLocked reports the unique field candidate would violate.
func (s *MemoryUserStore) conflictLocked(candidate *models.User) error {
	for id, u := range s.users {
		if id == candidate.ID {
			continue
		}
		if u.Email == candidate.Email {
			return &DuplicateKeyError{Field: FieldEmail}
		}
		if u.Role == models.RoleSuperAdmin && candidate.Role == models.RoleSuperAdmin {
			return &DuplicateKeyError{Field: FieldRole}
		}
	}
	return nil
}

func (s *MemoryUserStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	if err := s.conflictLocked(u); err != nil {
		return err
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = clone(u)
	return nil
}

func (s *MemoryUserStore) Update(_ context.Context, id bson.ObjectID, patch models.UserPatch) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(u)
	patch.Apply(next)
	if err := s.conflictLocked(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.users[id] = next
	return clone(next), nil
}

func (s *MemoryUserStore) Delete(_ context.Context, id bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Role == models.RoleSuperAdmin {
		return ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryUserStore) SetResetToken(_ context.Context, id bson.ObjectID, hash string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.ResetTokenHash = hash
	u.ResetTokenExpiry = &expiry
	u.UpdatedAt = s.now()
	return nil
}

func (s *MemoryUserStore) ClearResetToken(_ context.Context, id bson.ObjectID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.ResetTokenHash != hash {
		return nil
	}
	u.ResetTokenHash = ""
	u.ResetTokenExpiry = nil
	u.UpdatedAt = s.now()
	return nil
}

func (s *MemoryUserStore) ConsumeResetToken(_ context.Context, hash string, now time.Time, credentialHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.pendingLocked(hash, now)
	if u == nil {
		return nil, ErrNotFound
	}
	changed := now
	u.CredentialHash = credentialHash
	u.PasswordResetRequired = false
	u.CredentialChangedAt = &changed
	u.ResetTokenHash = ""
	u.ResetTokenExpiry = nil
	u.UpdatedAt = now
	return clone(u), nil
}

func (s *MemoryUserStore) ClearExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.users {
		if u.ResetTokenHash != "" && u.ResetTokenExpiry != nil && !u.ResetTokenExpiry.After(now) {
			u.ResetTokenHash = ""
			u.ResetTokenExpiry = nil
			n++
		}
	}
	return n, nil
}
