package checkout

import (
	"context"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// processPayment charges an online order after it has been committed. A declined or
// unreachable payment never rolls the order back; the status is reconciled later.
func (o *Orchestrator) processPayment(ctx context.Context, entry *log.Entry, order domain.Order, res Result) (Result, error) {
	outcome, err := o.gateway.Charge(ctx, order.ID, order.Total)
	if err != nil {
		entry.WithError(err).Warn("payment gateway unavailable, order left pending")
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = errors.Wrapf(domain.ErrUpstreamUnavailable, "payment: %v", err)
		}
		return res, err
	}

	if err := o.orders.UpdatePaymentStatus(ctx, order.ID, outcome.Status); err != nil {
		return res, errors.Wrap(err, "failed to record payment status")
	}
	res.PaymentStatus = outcome.Status

	entry.WithFields(log.Fields{
		"payment_status": outcome.Status,
		"transaction_id": outcome.TransactionID,
		"reason":         outcome.Reason,
	}).Info("payment processed")
	return res, nil
}

// RecordPaymentStatus applies a status reported by the payment collaborator out of band
func (o *Orchestrator) RecordPaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) error {
	return o.orders.UpdatePaymentStatus(ctx, orderID, status)
}
