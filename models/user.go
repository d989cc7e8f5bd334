package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
)

// ParseRole accepts only the closed set of known roles.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSuperAdmin:
		return RoleSuperAdmin, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) bit() RoleSet {
	switch r {
	case RoleSuperAdmin:
		return 1 << 0
	case RoleAdmin:
		return 1 << 1
	}
	return 0
}

// RoleSet is a bitmask of roles.
type RoleSet uint8

func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= r.bit()
	}
	return s
}

func (s RoleSet) Contains(r Role) bool {
	b := r.bit()
	return b != 0 && s&b == b
}

func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, 2)
	for _, r := range []Role{RoleSuperAdmin, RoleAdmin} {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

type User struct {
	ID                    bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                  string        `bson:"name" json:"name"`
	Email                 string        `bson:"email" json:"email"`
	CredentialHash        string        `bson:"passwordHash" json:"-"` // never expose
	Role                  Role          `bson:"role" json:"role"`
	LinkedinLink          string        `bson:"linkedinLink,omitempty" json:"linkedinLink,omitempty"`
	ProfilePhoto          string        `bson:"profilePhoto,omitempty" json:"profilePhoto,omitempty"`
	PasswordResetRequired bool          `bson:"passwordResetRequired" json:"passwordResetRequired"`
	ResetTokenHash        string        `bson:"resetToken,omitempty" json:"-"`
	ResetTokenExpiry      *time.Time    `bson:"resetTokenExpiry,omitempty" json:"-"`
	CredentialChangedAt   *time.Time    `bson:"credentialChangedAt,omitempty" json:"-"`
	CreatedAt             time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// UserPatch carries the fields an update sets. Nil fields are left untouched.
type UserPatch struct {
	Name                  *string
	Email                 *string
	Role                  *Role
	LinkedinLink          *string
	ProfilePhoto          *string
	CredentialHash        *string
	PasswordResetRequired *bool
	CredentialChangedAt   *time.Time
	// ClearResetToken drops any pending reset ticket.
	ClearResetToken bool
}

func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Role == nil && p.LinkedinLink == nil &&
		p.ProfilePhoto == nil && p.CredentialHash == nil && p.PasswordResetRequired == nil &&
		p.CredentialChangedAt == nil && !p.ClearResetToken
}

// Apply copies the set fields onto u.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.LinkedinLink != nil {
		u.LinkedinLink = *p.LinkedinLink
	}
	if p.ProfilePhoto != nil {
		u.ProfilePhoto = *p.ProfilePhoto
	}
	if p.CredentialHash != nil {
		u.CredentialHash = *p.CredentialHash
	}
	if p.PasswordResetRequired != nil {
		u.PasswordResetRequired = *p.PasswordResetRequired
	}
	if p.CredentialChangedAt != nil {
		t := *p.CredentialChangedAt
		u.CredentialChangedAt = &t
	}
	if p.ClearResetToken {
		u.ResetTokenHash = ""
		u.ResetTokenExpiry = nil
	}
}

// Set renders the patch as a mongo $set document.
func (p UserPatch) Set() bson.M {
	set := bson.M{}
	if p.Name != nil {
		set["name"] = *p.Name
	}
	if p.Email != nil {
		set["email"] = *p.Email
	}
	if p.Role != nil {
		set["role"] = *p.Role
	}
	if p.LinkedinLink != nil {
		set["linkedinLink"] = *p.LinkedinLink
	}
	if p.ProfilePhoto != nil {
		set["profilePhoto"] = *p.ProfilePhoto
	}
	if p.CredentialHash != nil {
		set["passwordHash"] = *p.CredentialHash
	}
	if p.PasswordResetRequired != nil {
		set["passwordResetRequired"] = *p.PasswordResetRequired
	}
	if p.CredentialChangedAt != nil {
		set["credentialChangedAt"] = *p.CredentialChangedAt
	}
	return set
}

// Unset renders the fields the patch removes as a mongo $unset document.
func (p UserPatch) Unset() bson.M {
	unset := bson.M{}
	if p.ClearResetToken {
		unset["resetToken"] = ""
		unset["resetTokenExpiry"] = ""
	}
	return unset
}
