package mongostore

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := s.outbox.Find(ctx, bson.M{"published": false}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch outbox events")
	}
	var docs []outboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode outbox events")
	}

	events := make([]domain.OutboxEvent, 0, len(docs))
	for _, d := range docs {
		events = append(events, d.toDomain())
	}
	return events, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.outbox.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"published": true, "published_at": s.now()}},
	)
	return errors.Wrap(err, "failed to mark outbox events published")
}
