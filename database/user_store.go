package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/princinho/mocreatives/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	emailIndexName      = "email_unique"
	superAdminIndexName = "role_superadmin_unique"
	resetTokenIndexName = "reset_token"
)

// UserStore persists identities in a mongo collection. Uniqueness of email and
// of the superadmin role is enforced by the indexes created in EnsureIndexes.
type UserStore struct {
	col *mongo.Collection
	now func() time.Time
}

func NewUserStore(col *mongo.Collection) *UserStore {
	return &UserStore{col: col, now: func() time.Time { return time.Now().UTC() }}
}

func (s *UserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(emailIndexName),
		},
		{
			Keys: bson.D{{Key: "role", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(superAdminIndexName).
				SetPartialFilterExpression(bson.M{"role": models.RoleSuperAdmin}),
		},
		{
			Keys: bson.D{{Key: "resetToken", Value: 1}},
			Options: options.Index().
				SetName(resetTokenIndexName).
				SetPartialFilterExpression(bson.M{"resetToken": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", mapError(err))
	}
	return nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *UserStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *UserStore) FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error) {
	return s.findOne(ctx, bson.M{
		"resetToken":       hash,
		"resetTokenExpiry": bson.M{"$gt": now},
	})
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	if err := s.col.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if _, err := s.col.InsertOne(ctx, u); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *UserStore) Update(ctx context.Context, id bson.ObjectID, patch models.UserPatch) (*models.User, error) {
	set := patch.Set()
	set["updatedAt"] = s.now()
	update := bson.M{"$set": set}
	if unset := patch.Unset(); len(unset) > 0 {
		update["$unset"] = unset
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user models.User
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&user)
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

// Delete removes the identity unless it holds the superadmin role.
func (s *UserStore) Delete(ctx context.Context, id bson.ObjectID) error {
	res, err := s.col.DeleteOne(ctx, bson.M{
		"_id":  id,
		"role": bson.M{"$ne": models.RoleSuperAdmin},
	})
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetResetToken overwrites any pending ticket.
func (s *UserStore) SetResetToken(ctx context.Context, id bson.ObjectID, hash string, expiry time.Time) error {
	res, err := s.col.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"resetToken":       hash,
			"resetTokenExpiry": expiry,
			"updatedAt":        s.now(),
		},
	})
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearResetToken drops the pending ticket only if it is still the given one.
func (s *UserStore) ClearResetToken(ctx context.Context, id bson.ObjectID, hash string) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id, "resetToken": hash}, bson.M{
		"$unset": bson.M{"resetToken": "", "resetTokenExpiry": ""},
		"$set":   bson.M{"updatedAt": s.now()},
	})
	return mapError(err)
}

// ConsumeResetToken swaps the credential and clears the ticket in one
// conditional write, so a ticket can be used at most once.
func (s *UserStore) ConsumeResetToken(ctx context.Context, hash string, now time.Time, credentialHash string) (*models.User, error) {
	filter := bson.M{
		"resetToken":       hash,
		"resetTokenExpiry": bson.M{"$gt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"passwordHash":          credentialHash,
			"passwordResetRequired": false,
			"credentialChangedAt":   now,
			"updatedAt":             now,
		},
		"$unset": bson.M{"resetToken": "", "resetTokenExpiry": ""},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (s *UserStore) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.col.UpdateMany(ctx, bson.M{
		"resetToken":       bson.M{"$exists": true},
		"resetTokenExpiry": bson.M{"$lte": now},
	}, bson.M{
		"$unset": bson.M{"resetToken": "", "resetTokenExpiry": ""},
	})
	if err != nil {
		return 0, mapError(err)
	}
	return res.ModifiedCount, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case IsDuplicateKey(err):
		return &DuplicateKeyError{Field: duplicateField(err)}
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 || e.Code == 11001 {
				return true
			}
		}
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 || e.Code == 11001 {
				return true
			}
		}
	}

	return strings.Contains(err.Error(), "E11000 duplicate key error")
}

func duplicateField(err error) string {
	if strings.Contains(err.Error(), superAdminIndexName) {
		return FieldRole
	}
	return FieldEmail
}
