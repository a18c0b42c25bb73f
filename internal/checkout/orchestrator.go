package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/retry"
	"github.com/fjod/storefront/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// orderNamespace derives deterministic order ids from idempotency keys
var orderNamespace = uuid.MustParse("6f1c2d4e-8a3b-4c5d-9e7f-0a1b2c3d4e5f")

type productReader interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
}

type userReader interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

type lineLister interface {
	ListLines(ctx context.Context, userID string) ([]domain.CartLine, error)
}

type Request struct {
	UserID         string
	Method         domain.PaymentMethod
	IdempotencyKey string
}

type Result struct {
	OrderID       string                `json:"orderId"`
	Status        domain.CheckoutStatus `json:"status"`
	PaymentStatus domain.PaymentStatus  `json:"paymentStatus,omitempty"`
	Total         decimal.Decimal       `json:"total"`
}

// Orchestrator turns a cart into an order in one atomic commit
type Orchestrator struct {
	orders   store.OrderStore
	lines    lineLister
	products productReader
	users    userReader
	gateway  payment.Gateway

	retry        retry.Policy
	cancelWindow time.Duration
	now          func() time.Time
}

type Option func(*Orchestrator)

func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

func WithCancelWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.cancelWindow = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	orders store.OrderStore,
	lines lineLister,
	products productReader,
	users userReader,
	gateway payment.Gateway,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		orders:       orders,
		lines:        lines,
		products:     products,
		users:        users,
		gateway:      gateway,
		retry:        retry.DefaultPolicy(),
		cancelWindow: domain.CancelWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// attempt tracks one pass through the checkout state machine
type attempt struct {
	userID string
	status domain.CheckoutStatus
	entry  *log.Entry
}

func (a *attempt) transition(next domain.CheckoutStatus) error {
	if !a.status.CanTransitionTo(next) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", a.status, next)
	}
	a.entry.WithFields(log.Fields{"from": a.status, "to": next}).Debug("checkout transition")
	a.status = next
	return nil
}

// Checkout validates the caller's cart, then commits order creation, stock decrement and
// cart removal as one transaction. A failed checkout leaves the cart and catalog untouched.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (Result, error) {
	if req.Method == "" {
		req.Method = domain.PaymentCashOnDelivery
	}
	entry := logger.FromContext(ctx).WithFields(log.Fields{
		"user_id":        req.UserID,
		"payment_method": req.Method,
	})

	// One id per call: a commit reported as stale may still have landed
	orderID := uuid.NewString()
	if req.IdempotencyKey != "" {
		orderID = uuid.NewSHA1(orderNamespace, []byte(req.UserID+"/"+req.IdempotencyKey)).String()
	}
	entry = entry.WithField("order_id", orderID)

	var placed domain.Order
	var final *attempt
	replayed := false
	tries := 0
	err := retry.Do(ctx, o.retry, func(ctx context.Context) error {
		tries++
		a := &attempt{userID: req.UserID, status: domain.CheckoutStatusValidating, entry: entry}
		final = a

		existing, err := o.orders.GetOrder(ctx, orderID)
		if err == nil {
			// Only an idempotency key can hit on the first try; later hits are our own commit
			replayed = tries == 1
			if replayed {
				entry.Info("duplicate checkout request, returning existing order")
			} else {
				entry.Info("commit landed despite a retryable error")
			}
			placed = existing
			a.status = domain.CheckoutStatusDone
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		order, lines, err := o.validate(ctx, req, orderID)
		if err != nil {
			if tErr := a.transition(domain.CheckoutStatusRejected); tErr != nil {
				return tErr
			}
			return err
		}

		if err := a.transition(domain.CheckoutStatusCommitting); err != nil {
			return err
		}
		event, err := newOutboxEvent(domain.EventOrderCreated, order, o.now())
		if err != nil {
			return err
		}
		if err := o.orders.PlaceOrder(ctx, order, lines, event); err != nil {
			if !retry.IsStaleWrite(err) {
				if tErr := a.transition(domain.CheckoutStatusRejected); tErr != nil {
					return tErr
				}
			}
			return err
		}

		placed = order
		return a.transition(domain.CheckoutStatusDone)
	})
	if err != nil {
		entry.WithError(err).Info("checkout rejected")
		return Result{Status: domain.CheckoutStatusRejected}, err
	}

	if !replayed {
		entry.WithField("total", placed.Total.String()).Info("order placed")
	}

	res := Result{
		OrderID:       placed.ID,
		Status:        final.status,
		PaymentStatus: placed.PaymentStatus,
		Total:         placed.Total,
	}
	// A replay reports the stored state; a pending charge is reconciled through RecordPaymentStatus
	if replayed || placed.PaymentMethod != domain.PaymentOnline || placed.PaymentStatus != domain.PaymentStatusPending {
		return res, nil
	}
	return o.processPayment(ctx, entry, placed, res)
}

// validate re-resolves every line against current stock and snapshots the order
func (o *Orchestrator) validate(ctx context.Context, req Request, orderID string) (domain.Order, []domain.CartLine, error) {
	lines, err := o.lines.ListLines(ctx, req.UserID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	if len(lines) == 0 {
		return domain.Order{}, nil, domain.ErrEmptyCart
	}

	items := make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		p, err := o.products.GetProduct(ctx, line.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, nil, domain.NewStockError(domain.ErrOutOfStock, line.ProductID, 0)
		}
		if err != nil {
			return domain.Order{}, nil, err
		}
		if line.Quantity > p.Stock {
			return domain.Order{}, nil, domain.NewStockError(domain.ErrOutOfStock, line.ProductID, p.Stock)
		}
		items = append(items, domain.CartItem{Line: line, Product: p})
	}

	user, err := o.users.GetUser(ctx, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, nil, errors.Wrap(domain.ErrIncompleteShippingProfile, "no profile on file")
	}
	if err != nil {
		return domain.Order{}, nil, err
	}
	if !user.Profile.Complete() {
		return domain.Order{}, nil, errors.Wrap(domain.ErrIncompleteShippingProfile, "phone, province, district, city and address are required")
	}

	return domain.NewOrder(orderID, user, items, req.Method, o.now()), lines, nil
}

func newOutboxEvent(eventType string, order domain.Order, now time.Time) (domain.OutboxEvent, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return domain.OutboxEvent{}, errors.Wrap(err, "marshal order event")
	}
	return domain.OutboxEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		OrderID:   order.ID,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}
