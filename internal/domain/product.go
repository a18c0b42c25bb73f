package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	MinRating = 1
	MaxRating = 5
)

// RatingEntry is a single user's rating of a product. A product holds at most one entry per user.
type RatingEntry struct {
	UserID string `json:"userId"`
	Value  int    `json:"value"`
}

// RatingAggregate is always derived from the full entry list, never updated incrementally.
type RatingAggregate struct {
	Sum   int     `json:"sum"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Contact     string          `json:"contact"`
	Stock       int             `json:"stock"`
	Images      []string        `json:"images"`
	Rating      RatingAggregate `json:"rating"`
	Ratings     []RatingEntry   `json:"ratings,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Available reports whether the product can be added to a cart
func (p Product) Available() bool {
	return p.Stock > 0
}

// Validate checks the admin-editable fields
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.Wrap(ErrInvalidArgument, "product name is required")
	}
	if p.Price.IsNegative() {
		return errors.Wrap(ErrInvalidArgument, "price must not be negative")
	}
	if p.Stock < 0 {
		return errors.Wrap(ErrInvalidArgument, "stock must not be negative")
	}
	return nil
}

// SetRating replaces the entry for userID and recomputes the aggregate.
// It returns false when the user already had exactly this value.
func (p *Product) SetRating(userID string, value int) bool {
	for i, e := range p.Ratings {
		if e.UserID != userID {
			continue
		}
		if e.Value == value {
			return false
		}
		p.Ratings[i].Value = value
		p.Rating = ComputeRating(p.Ratings)
		return true
	}
	p.Ratings = append(p.Ratings, RatingEntry{UserID: userID, Value: value})
	p.Rating = ComputeRating(p.Ratings)
	return true
}

// Clone returns a deep copy so callers can mutate slices without touching shared state
func (p Product) Clone() Product {
	c := p
	if p.Images != nil {
		c.Images = append([]string(nil), p.Images...)
	}
	if p.Ratings != nil {
		c.Ratings = append([]RatingEntry(nil), p.Ratings...)
	}
	return c
}

func ComputeRating(entries []RatingEntry) RatingAggregate {
	agg := RatingAggregate{Count: len(entries)}
	for _, e := range entries {
		agg.Sum += e.Value
	}
	if agg.Count > 0 {
		agg.Mean = float64(agg.Sum) / float64(agg.Count)
	}
	return agg
}

func ValidateRating(value int) error {
	if value < MinRating || value > MaxRating {
		return errors.Wrapf(ErrInvalidArgument, "rating must be between %d and %d", MinRating, MaxRating)
	}
	return nil
}

type ProductSort string

const (
	SortRandom    ProductSort = "random"
	SortNewest    ProductSort = "newest"
	SortPriceAsc  ProductSort = "price_asc"
	SortPriceDesc ProductSort = "price_desc"
)

func ParseProductSort(s string) (ProductSort, error) {
	switch ProductSort(s) {
	case "":
		return SortRandom, nil
	case SortRandom, SortNewest, SortPriceAsc, SortPriceDesc:
		return ProductSort(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown sort %q", s)
	}
}

// ProductQuery selects products for listing. Text matches name or description, ignoring case.
type ProductQuery struct {
	Text string
	Sort ProductSort
}

func (q ProductQuery) Matches(p Product) bool {
	if q.Text == "" {
		return true
	}
	needle := strings.ToLower(q.Text)
	return strings.Contains(strings.ToLower(p.Name), needle) ||
		strings.Contains(strings.ToLower(p.Description), needle)
}
