package cart

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// productReader must hit the store, not a cache: every stock check here is authoritative
type productReader interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
}

// Manager owns cart lines and validates them against the catalog before every mutation
type Manager struct {
	lines    store.CartStore
	products productReader
	now      func() time.Time
}

func NewManager(lines store.CartStore, products productReader) *Manager {
	return &Manager{
		lines:    lines,
		products: products,
		now:      time.Now,
	}
}

// AddToCart creates a line with quantity 1. An existing line is reported, never bumped.
func (m *Manager) AddToCart(ctx context.Context, userID, productID string) (domain.CartLine, error) {
	p, err := m.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if !p.Available() {
		return domain.CartLine{}, domain.NewStockError(domain.ErrOutOfStock, productID, 0)
	}

	line := domain.CartLine{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  domain.MinQuantity,
		CreatedAt: m.now(),
	}
	if err := m.lines.InsertLine(ctx, line); err != nil {
		return domain.CartLine{}, err
	}

	logger.FromContext(ctx).WithFields(log.Fields{
		"user_id":    userID,
		"product_id": productID,
		"line_id":    line.ID,
	}).Info("added to cart")
	return line, nil
}

// SetQuantity changes a line's quantity. The stock is read again after the write, and if it
// fell below the new quantity in the meantime the previous quantity is restored.
func (m *Manager) SetQuantity(ctx context.Context, userID, lineID string, quantity int) (domain.CartLine, error) {
	if !domain.QuantityInRange(quantity) {
		return domain.CartLine{}, errors.Wrapf(domain.ErrQuantityOutOfRange, "quantity must be between %d and %d", domain.MinQuantity, domain.MaxQuantity)
	}

	line, err := m.ownedLine(ctx, userID, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}

	before, err := m.stockOf(ctx, line.ProductID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if quantity > before.Stock {
		return domain.CartLine{}, domain.NewStockError(domain.ErrExceedsStock, line.ProductID, before.Stock)
	}

	updated, err := m.lines.UpdateQuantity(ctx, lineID, quantity)
	if err != nil {
		return domain.CartLine{}, err
	}

	after, err := m.stockOf(ctx, line.ProductID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if after.Version != before.Version && quantity > after.Stock {
		if _, err := m.lines.UpdateQuantity(ctx, lineID, line.Quantity); err != nil {
			return domain.CartLine{}, errors.Wrap(err, "failed to restore quantity")
		}
		return domain.CartLine{}, domain.NewStockError(domain.ErrExceedsStock, line.ProductID, after.Stock)
	}

	return updated, nil
}

func (m *Manager) RemoveFromCart(ctx context.Context, userID, lineID string) error {
	if _, err := m.ownedLine(ctx, userID, lineID); err != nil {
		return err
	}
	return m.lines.DeleteLine(ctx, lineID)
}

// ListCart resolves each line against the catalog. Lines whose product is gone or has
// no stock left are deleted here and left out of the result.
func (m *Manager) ListCart(ctx context.Context, userID string) ([]domain.CartItem, error) {
	lines, err := m.lines.ListLines(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		p, err := m.products.GetProduct(ctx, line.ProductID)
		switch {
		case err == nil && p.Available():
			items = append(items, domain.CartItem{Line: line, Product: p})
			continue
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}

		if err := m.lines.DeleteLine(ctx, line.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).WithFields(log.Fields{
			"user_id":    userID,
			"product_id": line.ProductID,
			"line_id":    line.ID,
		}).Info("evicted unavailable cart line")
	}
	return items, nil
}

// ComputeTotal is the sum of price times quantity over resolved items
func (m *Manager) ComputeTotal(items []domain.CartItem) decimal.Decimal {
	return domain.ComputeTotal(items)
}

func (m *Manager) ownedLine(ctx context.Context, userID, lineID string) (domain.CartLine, error) {
	line, err := m.lines.GetLine(ctx, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if line.UserID != userID {
		return domain.CartLine{}, errors.Wrapf(domain.ErrForbidden, "cart line %s belongs to another user", lineID)
	}
	return line, nil
}

// stockOf treats a vanished product as having no stock
func (m *Manager) stockOf(ctx context.Context, productID string) (domain.Product, error) {
	p, err := m.products.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Product{ID: productID, Version: -1}, nil
	}
	return p, err
}
