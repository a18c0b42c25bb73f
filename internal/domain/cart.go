package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinQuantity = 1
	MaxQuantity = 100
)

// CartLine is unique per (UserID, ProductID)
type CartLine struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}

// CartItem is a cart line resolved against the catalog
type CartItem struct {
	Line    CartLine `json:"line"`
	Product Product  `json:"product"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Line.Quantity)))
}

// ComputeTotal sums price*quantity over resolved cart items
func ComputeTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func QuantityInRange(q int) bool {
	return q >= MinQuantity && q <= MaxQuantity
}
