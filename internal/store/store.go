package store

import (
	"context"
	"iter"

	"github.com/fjod/storefront/internal/domain"
)

// Stores return domain sentinel errors: domain.ErrNotFound for missing records,
// domain.ErrStaleWrite when an optimistic write lost a race, and *domain.StockError
// for conditional stock updates that would go negative.

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)

	// ListProducts returns a lazy sequence; ranging over it again re-runs the query
	ListProducts(ctx context.Context, q domain.ProductQuery) iter.Seq2[domain.Product, error]

	CreateProduct(ctx context.Context, p domain.Product) error

	// ReplaceProduct writes p only if the stored version still equals p.Version.
	// The stored copy gets version p.Version+1 and is returned.
	ReplaceProduct(ctx context.Context, p domain.Product) (domain.Product, error)

	// AdjustStock adds delta to stock atomically, refusing to go below zero
	AdjustStock(ctx context.Context, id string, delta int) (int, error)

	DeleteProduct(ctx context.Context, id string) error
}

type CartStore interface {
	// InsertLine fails with domain.ErrAlreadyInCart if the user already has a line for the product
	InsertLine(ctx context.Context, line domain.CartLine) error
	GetLine(ctx context.Context, id string) (domain.CartLine, error)
	UpdateQuantity(ctx context.Context, id string, quantity int) (domain.CartLine, error)
	DeleteLine(ctx context.Context, id string) error
	ListLines(ctx context.Context, userID string) ([]domain.CartLine, error)
	CountLinesForProduct(ctx context.Context, productID string) (int, error)
}

type OrderStore interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)

	// ListOrders returns orders newest first; an empty userID lists every order
	ListOrders(ctx context.Context, userID string) ([]domain.Order, error)

	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus) error

	// PlaceOrder is one atomic commit: stock is decremented for every order line,
	// the order and its outbox event are inserted and the given cart lines are deleted.
	// A line that changed or vanished since it was read yields domain.ErrStaleWrite.
	PlaceOrder(ctx context.Context, order domain.Order, lines []domain.CartLine, event domain.OutboxEvent) error

	// RemoveOrder deletes the order and records the event atomically
	RemoveOrder(ctx context.Context, id string, event domain.OutboxEvent) error
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (domain.User, error)

	// EnsureUser inserts u unless a user with the same id exists, and returns the stored user
	EnsureUser(ctx context.Context, u domain.User) (domain.User, error)

	UpdateProfile(ctx context.Context, id string, profile domain.ShippingProfile) (domain.User, error)
	SetDisplayName(ctx context.Context, id, name string) (domain.User, error)
	SetRole(ctx context.Context, id string, role domain.Role) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

type OutboxStore interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Store is the full persistence surface of the engine
type Store interface {
	ProductStore
	CartStore
	OrderStore
	UserStore
	OutboxStore
	Close(ctx context.Context) error
}
