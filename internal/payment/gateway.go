package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// Gateway is the external payment collaborator. A declined charge is a normal Outcome;
// an error means the gateway could not be reached or did not answer.
// Checkout charges an order at most once; an unanswered charge is settled through
// RecordPaymentStatus, never by charging the same order id again.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amount decimal.Decimal) (Outcome, error)
}

type Outcome struct {
	Status        domain.PaymentStatus
	TransactionID string
	Reason        string
}

// Known refusal reasons reported by the simulated gateway
const (
	RefusalInsufficientFunds = "insufficient funds"
	RefusalCardExpired       = "card expired"
	RefusalSuspectedFraud    = "suspected fraud"
	RefusalLimitExceeded     = "limit exceeded"
)

var refusals = []string{
	RefusalInsufficientFunds,
	RefusalCardExpired,
	RefusalSuspectedFraud,
	RefusalLimitExceeded,
}

// SimulatedGateway approves charges at random, declining roughly FailureRate of them
type SimulatedGateway struct {
	FailureRate float64
	roll        func() float64
}

func NewSimulatedGateway(failureRate float64) *SimulatedGateway {
	return &SimulatedGateway{FailureRate: failureRate, roll: rand.Float64}
}

func (g *SimulatedGateway) Charge(ctx context.Context, orderID string, amount decimal.Decimal) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return outcomeFor(g.roll(), g.FailureRate, orderID), nil
}

func outcomeFor(roll, failureRate float64, orderID string) Outcome {
	txID := fmt.Sprintf("TXN-%s-%d", orderID, time.Now().UnixNano())
	if roll >= failureRate {
		return Outcome{Status: domain.PaymentStatusPaid, TransactionID: txID}
	}

	// Spread declines over the known reasons
	idx := int(roll / failureRate * float64(len(refusals)))
	if idx >= len(refusals) {
		idx = len(refusals) - 1
	}
	return Outcome{Status: domain.PaymentStatusFailed, TransactionID: txID, Reason: refusals[idx]}
}
