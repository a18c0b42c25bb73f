package domain

import (
	"time"

	"github.com/pkg/errors"
)

type Collection string

const (
	CollectionProducts Collection = "products"
	CollectionCarts    Collection = "carts"
	CollectionOrders   Collection = "orders"
)

func ParseCollection(s string) (Collection, error) {
	switch Collection(s) {
	case CollectionProducts, CollectionCarts, CollectionOrders:
		return Collection(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown collection %q", s)
	}
}

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent describes one mutation of one entity. Entity holds the new state
// (Product, CartLine or Order) and, for removals, the last known state when available.
type ChangeEvent struct {
	Collection Collection `json:"collection"`
	Kind       ChangeKind `json:"kind"`
	EntityID   string     `json:"entityId"`
	UserID     string     `json:"userId,omitempty"`
	Entity     any        `json:"entity,omitempty"`
	At         time.Time  `json:"at"`
}

// Order events written to the outbox alongside order mutations
const (
	EventOrderCreated   = "order.created"
	EventOrderCancelled = "order.cancelled"
)

type OutboxEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}
