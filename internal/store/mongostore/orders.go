package mongostore

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var doc orderDoc
	if err := s.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, errors.Wrapf(domain.ErrNotFound, "order %s", id)
		}
		return domain.Order{}, errors.Wrap(err, "failed to get order")
	}
	return doc.toDomain(), nil
}

func (s *Store) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	filter := bson.M{}
	if userID != "" {
		filter["user_id"] = userID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode orders")
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, d.toDomain())
	}
	return orders, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	res, err := s.orders.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"payment_status": string(status)}})
	if err != nil {
		return errors.Wrap(err, "failed to update payment status")
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	return nil
}

// PlaceOrder removes exactly the validated cart lines, decrements stock conditionally,
// and inserts the order with its outbox event, all in one transaction.
func (s *Store) PlaceOrder(ctx context.Context, order domain.Order, lines []domain.CartLine, event domain.OutboxEvent) error {
	doc, err := newOrderDoc(order)
	if err != nil {
		return err
	}
	now := s.now()

	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		for _, l := range lines {
			res, err := s.carts.DeleteOne(sc, bson.M{
				"_id":        l.ID,
				"product_id": l.ProductID,
				"quantity":   l.Quantity,
			})
			if err != nil {
				return errors.Wrap(err, "failed to remove cart line")
			}
			if res.DeletedCount == 0 {
				return errors.Wrapf(domain.ErrStaleWrite, "cart line %s changed during checkout", l.ID)
			}
		}

		for _, ol := range order.Lines {
			res, err := s.products.UpdateOne(sc,
				bson.M{"_id": ol.ProductID, "stock": bson.M{"$gte": ol.Quantity}},
				bson.M{
					"$inc": bson.M{"stock": -ol.Quantity, "version": 1},
					"$set": bson.M{"updated_at": now},
				},
			)
			if err != nil {
				return errors.Wrap(err, "failed to decrement stock")
			}
			if res.MatchedCount == 0 {
				return s.stockShortfall(sc, ol.ProductID)
			}
		}

		if _, err := s.orders.InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return errors.Wrapf(domain.ErrConflict, "order %s already exists", order.ID)
			}
			return errors.Wrap(err, "failed to insert order")
		}
		if _, err := s.outbox.InsertOne(sc, newOutboxDoc(event)); err != nil {
			return errors.Wrap(err, "failed to write outbox event")
		}
		return nil
	})
}

func (s *Store) stockShortfall(ctx context.Context, productID string) error {
	var doc productDoc
	err := s.products.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.NewStockError(domain.ErrOutOfStock, productID, 0)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read stock")
	}
	return domain.NewStockError(domain.ErrOutOfStock, productID, doc.Stock)
}

func (s *Store) RemoveOrder(ctx context.Context, id string, event domain.OutboxEvent) error {
	return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := s.orders.DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return errors.Wrap(err, "failed to delete order")
		}
		if res.DeletedCount == 0 {
			return errors.Wrapf(domain.ErrNotFound, "order %s", id)
		}
		if _, err := s.outbox.InsertOne(sc, newOutboxDoc(event)); err != nil {
			return errors.Wrap(err, "failed to write outbox event")
		}
		return nil
	})
}
