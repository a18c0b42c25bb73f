package rating

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	log "github.com/sirupsen/logrus"
)

type ratingWriter interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	UpsertRating(ctx context.Context, id, userID string, value int) (domain.RatingAggregate, error)
}

type Result struct {
	Aggregate domain.RatingAggregate `json:"rating"`
	// Accepted is false when the submission arrived inside the debounce window and was dropped
	Accepted bool `json:"accepted"`
}

type Aggregator struct {
	catalog   ratingWriter
	debouncer Debouncer
}

func NewAggregator(catalog ratingWriter, debouncer Debouncer) *Aggregator {
	return &Aggregator{catalog: catalog, debouncer: debouncer}
}

// SubmitRating records userID's rating for a product. Repeated submissions within the
// debounce window are dropped and the current aggregate is returned unchanged.
func (a *Aggregator) SubmitRating(ctx context.Context, productID, userID string, value int) (Result, error) {
	if err := domain.ValidateRating(value); err != nil {
		return Result{}, err
	}
	entry := logger.FromContext(ctx).WithFields(log.Fields{
		"product_id": productID,
		"user_id":    userID,
	})

	ok, err := a.debouncer.Acquire(ctx, userID, productID)
	if err != nil {
		// Debounce is best effort; an unreachable backend lets the write through
		entry.WithError(err).Warn("rating debounce unavailable")
		ok = true
	}
	if !ok {
		p, err := a.catalog.GetProduct(ctx, productID)
		if err != nil {
			return Result{}, err
		}
		entry.Debug("rating debounced")
		return Result{Aggregate: p.Rating, Accepted: false}, nil
	}

	agg, err := a.catalog.UpsertRating(ctx, productID, userID, value)
	if err != nil {
		if relErr := a.debouncer.Release(ctx, userID, productID); relErr != nil {
			entry.WithError(relErr).Warn("failed to release rating debounce")
		}
		return Result{}, err
	}

	entry.WithFields(log.Fields{"value": value, "mean": agg.Mean, "count": agg.Count}).Info("rating recorded")
	return Result{Aggregate: agg, Accepted: true}, nil
}
