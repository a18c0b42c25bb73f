package mongostore

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const namespaceExistsCode = 48

// EnsureSchema creates the collections, their indexes, and turns on change stream
// pre-images for collections whose removals must still carry the owning user.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, name := range []string{productsCollection, cartsCollection, ordersCollection, usersCollection, outboxCollection} {
		if err := s.db.CreateCollection(ctx, name); err != nil {
			var ce mongo.CommandError
			if !errors.As(err, &ce) || ce.Code != namespaceExistsCode {
				return errors.Wrapf(err, "failed to create collection %s", name)
			}
		}
	}

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.products: {
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "price", Value: 1}}},
		},
		s.carts: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "product_id", Value: 1}},
				Options: options.Index().SetName("user_product_unique").SetUnique(true),
			},
			{Keys: bson.D{{Key: "product_id", Value: 1}}},
		},
		s.orders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		s.users: {
			{
				Keys: bson.D{{Key: "display_name", Value: 1}},
				Options: options.Index().
					SetName("display_name_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"display_name": bson.M{"$type": "string"}}),
			},
		},
		s.outbox: {
			{Keys: bson.D{{Key: "published", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "failed to create indexes on %s", coll.Name())
		}
	}

	for _, name := range []string{cartsCollection, ordersCollection} {
		cmd := bson.D{
			{Key: "collMod", Value: name},
			{Key: "changeStreamPreAndPostImages", Value: bson.M{"enabled": true}},
		}
		if err := s.db.RunCommand(ctx, cmd).Err(); err != nil {
			// Servers before 6.0 lack pre-images; removals then arrive without a user id
			log.WithError(err).WithField("collection", name).Warn("change stream pre-images unavailable")
		}
	}
	return nil
}
