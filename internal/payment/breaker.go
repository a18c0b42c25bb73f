package payment

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name             string
	ConsecutiveFails uint32
	OpenTimeout      time.Duration
	CallTimeout      time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "payment-gateway",
		ConsecutiveFails: 5,
		OpenTimeout:      30 * time.Second,
		CallTimeout:      5 * time.Second,
	}
}

// BreakerGateway guards a Gateway with a circuit breaker. Every failure it returns
// wraps domain.ErrUpstreamUnavailable.
type BreakerGateway struct {
	next    Gateway
	cb      *gobreaker.CircuitBreaker[Outcome]
	timeout time.Duration
}

func NewBreakerGateway(next Gateway, s BreakerSettings) *BreakerGateway {
	cb := gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return &BreakerGateway{next: next, cb: cb, timeout: s.CallTimeout}
}

func (g *BreakerGateway) Charge(ctx context.Context, orderID string, amount decimal.Decimal) (Outcome, error) {
	out, err := g.cb.Execute(func() (Outcome, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.next.Charge(callCtx, orderID, amount)
	})
	if err != nil {
		return Outcome{}, errors.Wrapf(domain.ErrUpstreamUnavailable, "payment gateway: %v", err)
	}
	return out, nil
}

func (g *BreakerGateway) State() gobreaker.State {
	return g.cb.State()
}
