package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrConflict                  = errors.New("conflict: concurrent update, retry budget exhausted")
	ErrOutOfStock                = errors.New("out of stock")
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrExceedsStock              = errors.New("quantity exceeds available stock")
	ErrAlreadyInCart             = errors.New("product is already in the cart")
	ErrQuantityOutOfRange        = errors.New("quantity out of range")
	ErrEmptyCart                 = errors.New("cart is empty, nothing to checkout")
	ErrIncompleteShippingProfile = errors.New("shipping profile is incomplete")
	ErrForbidden                 = errors.New("forbidden")
	ErrWindowExpired             = errors.New("cancellation window expired")
	ErrUpstreamUnavailable       = errors.New("upstream unavailable")
	ErrInvalidArgument           = errors.New("invalid argument")
	ErrDisplayNameTaken          = errors.New("display name already taken")

	// ErrStaleWrite is returned by stores when a versioned write lost a race. It is retried
	// by callers and surfaces as ErrConflict once the retry budget is spent.
	ErrStaleWrite = errors.New("stale write")
)

// StockError carries the stock figure behind a stock-related rejection.
// Kind is one of ErrOutOfStock, ErrInsufficientStock or ErrExceedsStock.
type StockError struct {
	Kind      error
	ProductID string
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product %s, only %d item(s) available", e.Kind, e.ProductID, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Kind
}

func NewStockError(kind error, productID string, available int) *StockError {
	return &StockError{Kind: kind, ProductID: productID, Available: available}
}
