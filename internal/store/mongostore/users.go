package mongostore

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, errors.Wrapf(domain.ErrNotFound, "user %s", id)
		}
		return domain.User{}, errors.Wrap(err, "failed to get user")
	}
	return doc.toDomain(), nil
}

func (s *Store) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	if _, err := s.users.InsertOne(ctx, newUserDoc(u)); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return domain.User{}, errors.Wrap(err, "failed to insert user")
		}
		// Either a concurrent first request created the user, or the name is taken
		if existing, getErr := s.GetUser(ctx, u.ID); getErr == nil {
			return existing, nil
		}
		return domain.User{}, errors.Wrapf(domain.ErrDisplayNameTaken, "%q", u.DisplayName)
	}
	return u, nil
}

func (s *Store) updateUser(ctx context.Context, id string, set bson.M) (domain.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, errors.Wrapf(domain.ErrNotFound, "user %s", id)
		}
		return domain.User{}, err
	}
	return doc.toDomain(), nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, profile domain.ShippingProfile) (domain.User, error) {
	u, err := s.updateUser(ctx, id, bson.M{"profile": profileDoc(profile)})
	return u, errors.WithMessage(err, "failed to update profile")
}

func (s *Store) SetDisplayName(ctx context.Context, id, name string) (domain.User, error) {
	u, err := s.updateUser(ctx, id, bson.M{"display_name": name})
	if mongo.IsDuplicateKeyError(err) {
		return domain.User{}, errors.Wrapf(domain.ErrDisplayNameTaken, "%q", name)
	}
	return u, errors.WithMessage(err, "failed to set display name")
}

func (s *Store) SetRole(ctx context.Context, id string, role domain.Role) (domain.User, error) {
	u, err := s.updateUser(ctx, id, bson.M{"role": string(role)})
	return u, errors.WithMessage(err, "failed to set role")
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode users")
	}

	users := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toDomain())
	}
	return users, nil
}
