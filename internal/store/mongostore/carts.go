package mongostore

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertLine relies on the unique (user_id, product_id) index to reject duplicates
func (s *Store) InsertLine(ctx context.Context, line domain.CartLine) error {
	if _, err := s.carts.InsertOne(ctx, newCartLineDoc(line)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Wrapf(domain.ErrAlreadyInCart, "product %s", line.ProductID)
		}
		return errors.Wrap(err, "failed to insert cart line")
	}
	return nil
}

func (s *Store) GetLine(ctx context.Context, id string) (domain.CartLine, error) {
	var doc cartLineDoc
	if err := s.carts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.CartLine{}, errors.Wrapf(domain.ErrNotFound, "cart line %s", id)
		}
		return domain.CartLine{}, errors.Wrap(err, "failed to get cart line")
	}
	return doc.toDomain(), nil
}

func (s *Store) UpdateQuantity(ctx context.Context, id string, quantity int) (domain.CartLine, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc cartLineDoc
	err := s.carts.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"quantity": quantity}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.CartLine{}, errors.Wrapf(domain.ErrNotFound, "cart line %s", id)
		}
		return domain.CartLine{}, errors.Wrap(err, "failed to update quantity")
	}
	return doc.toDomain(), nil
}

func (s *Store) DeleteLine(ctx context.Context, id string) error {
	res, err := s.carts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "failed to delete cart line")
	}
	if res.DeletedCount == 0 {
		return errors.Wrapf(domain.ErrNotFound, "cart line %s", id)
	}
	return nil
}

func (s *Store) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.carts.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cart lines")
	}
	var docs []cartLineDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode cart lines")
	}

	lines := make([]domain.CartLine, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, d.toDomain())
	}
	return lines, nil
}

func (s *Store) CountLinesForProduct(ctx context.Context, productID string) (int, error) {
	n, err := s.carts.CountDocuments(ctx, bson.M{"product_id": productID})
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cart lines")
	}
	return int(n), nil
}
