package mongostore

import (
	"context"
	"iter"
	"math/rand/v2"
	"regexp"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var doc productDoc
	err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, errors.Wrapf(domain.ErrNotFound, "product %s", id)
		}
		return domain.Product{}, errors.Wrap(err, "failed to get product")
	}
	return doc.toDomain(), nil
}

func productFilter(q domain.ProductQuery) bson.M {
	if q.Text == "" {
		return bson.M{}
	}
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(q.Text), Options: "i"}
	return bson.M{"$or": bson.A{
		bson.M{"name": pattern},
		bson.M{"description": pattern},
	}}
}

func productSort(sort domain.ProductSort) bson.D {
	switch sort {
	case domain.SortNewest:
		return bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}
	case domain.SortPriceAsc:
		return bson.D{{Key: "price", Value: 1}, {Key: "_id", Value: 1}}
	case domain.SortPriceDesc:
		return bson.D{{Key: "price", Value: -1}, {Key: "_id", Value: 1}}
	default:
		return nil
	}
}

// ListProducts streams from a cursor; random order is shuffled client side.
// Every range over the returned sequence runs the query again.
func (s *Store) ListProducts(ctx context.Context, q domain.ProductQuery) iter.Seq2[domain.Product, error] {
	return func(yield func(domain.Product, error) bool) {
		sort := productSort(q.Sort)
		opts := options.Find()
		if sort != nil {
			opts.SetSort(sort)
		}
		cursor, err := s.products.Find(ctx, productFilter(q), opts)
		if err != nil {
			yield(domain.Product{}, errors.Wrap(err, "failed to list products"))
			return
		}
		defer cursor.Close(ctx)

		if sort == nil {
			var docs []productDoc
			if err := cursor.All(ctx, &docs); err != nil {
				yield(domain.Product{}, errors.Wrap(err, "failed to decode products"))
				return
			}
			rand.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
			for _, d := range docs {
				if !yield(d.toDomain(), nil) {
					return
				}
			}
			return
		}

		for cursor.Next(ctx) {
			var doc productDoc
			if err := cursor.Decode(&doc); err != nil {
				yield(domain.Product{}, errors.Wrap(err, "failed to decode product"))
				return
			}
			if !yield(doc.toDomain(), nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(domain.Product{}, errors.Wrap(err, "product cursor failed"))
		}
	}
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) error {
	p.Version = 1
	doc, err := newProductDoc(p)
	if err != nil {
		return err
	}
	if _, err := s.products.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Wrapf(domain.ErrConflict, "product %s already exists", p.ID)
		}
		return errors.Wrap(err, "failed to insert product")
	}
	return nil
}

func (s *Store) ReplaceProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	expected := p.Version
	p.Version = expected + 1
	p.UpdatedAt = s.now()
	doc, err := newProductDoc(p)
	if err != nil {
		return domain.Product{}, err
	}

	res, err := s.products.ReplaceOne(ctx, bson.M{"_id": p.ID, "version": expected}, doc)
	if err != nil {
		return domain.Product{}, errors.Wrap(err, "failed to replace product")
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetProduct(ctx, p.ID); err != nil {
			return domain.Product{}, err
		}
		return domain.Product{}, errors.Wrapf(domain.ErrStaleWrite, "product %s is no longer at version %d", p.ID, expected)
	}
	return doc.toDomain(), nil
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	filter := bson.M{"_id": id}
	if delta < 0 {
		filter["stock"] = bson.M{"$gte": -delta}
	}
	update := bson.M{
		"$inc": bson.M{"stock": delta, "version": 1},
		"$set": bson.M{"updated_at": s.now()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc productDoc
	err := s.products.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.Stock, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, errors.Wrap(err, "failed to adjust stock")
	}

	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	return current.Stock, domain.NewStockError(domain.ErrInsufficientStock, id, current.Stock)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "failed to delete product")
	}
	if res.DeletedCount == 0 {
		return errors.Wrapf(domain.ErrNotFound, "product %s", id)
	}
	return nil
}
