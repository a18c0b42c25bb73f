package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// CancelWindow is how long after creation an owner may cancel an order
const CancelWindow = 12 * time.Hour

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentOnline         PaymentMethod = "online"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case "", PaymentCashOnDelivery:
		return PaymentCashOnDelivery, nil
	case PaymentOnline:
		return PaymentOnline, nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown payment method %q", s)
	}
}

type PaymentStatus string

const (
	PaymentStatusCashOnDelivery PaymentStatus = "Cash on Delivery"
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusPaid           PaymentStatus = "paid"
	PaymentStatusFailed         PaymentStatus = "failed"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case PaymentStatusCashOnDelivery, PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return PaymentStatus(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown payment status %q", s)
	}
}

// ShippingSnapshot is copied from the user's profile at checkout and never re-linked
type ShippingSnapshot struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Province string `json:"province"`
	District string `json:"district"`
	City     string `json:"city"`
	Address  string `json:"address"`
}

type OrderLine struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	Image     string          `json:"image"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type Order struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	Shipping      ShippingSnapshot `json:"shipping"`
	Lines         []OrderLine      `json:"lines"`
	Total         decimal.Decimal  `json:"total"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	PaymentStatus PaymentStatus    `json:"paymentStatus"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// NewOrder snapshots the resolved cart items and the user's shipping profile
func NewOrder(id string, user User, items []CartItem, method PaymentMethod, now time.Time) Order {
	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		var image string
		if len(item.Product.Images) > 0 {
			image = item.Product.Images[0]
		}
		lines = append(lines, OrderLine{
			ProductID: item.Product.ID,
			Title:     item.Product.Name,
			Image:     image,
			UnitPrice: item.Product.Price,
			Quantity:  item.Line.Quantity,
			LineTotal: item.LineTotal(),
		})
	}

	status := PaymentStatusPending
	if method == PaymentCashOnDelivery {
		status = PaymentStatusCashOnDelivery
	}

	return Order{
		ID:     id,
		UserID: user.ID,
		Shipping: ShippingSnapshot{
			Name:     user.DisplayName,
			Phone:    user.Profile.Phone,
			Province: user.Profile.Province,
			District: user.Profile.District,
			City:     user.Profile.City,
			Address:  user.Profile.Address,
		},
		Lines:         lines,
		Total:         ComputeTotal(items),
		PaymentMethod: method,
		PaymentStatus: status,
		CreatedAt:     now,
	}
}

// CheckCancel returns nil if requesterID may cancel the order at now
func (o Order) CheckCancel(requesterID string, now time.Time, window time.Duration) error {
	if o.UserID != requesterID {
		return errors.Wrap(ErrForbidden, "only the owner can cancel an order")
	}
	if now.Sub(o.CreatedAt) >= window {
		return errors.Wrapf(ErrWindowExpired, "order %s is older than %s", o.ID, window)
	}
	return nil
}

func (o Order) Clone() Order {
	c := o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	return c
}
