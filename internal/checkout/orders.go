package checkout

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	log "github.com/sirupsen/logrus"
)

// CancelOrder deletes an order for its owner within the cancellation window.
// Stock is not restored.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, requesterID string) error {
	order, err := o.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := order.CheckCancel(requesterID, o.now(), o.cancelWindow); err != nil {
		return err
	}

	event, err := newOutboxEvent(domain.EventOrderCancelled, order, o.now())
	if err != nil {
		return err
	}
	if err := o.orders.RemoveOrder(ctx, orderID, event); err != nil {
		return err
	}

	logger.FromContext(ctx).WithFields(log.Fields{
		"order_id": orderID,
		"user_id":  requesterID,
	}).Info("order cancelled")
	return nil
}

func (o *Orchestrator) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	return o.orders.ListOrders(ctx, userID)
}

func (o *Orchestrator) ListAllOrders(ctx context.Context) ([]domain.Order, error) {
	return o.orders.ListOrders(ctx, "")
}
