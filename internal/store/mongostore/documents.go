package mongostore

import (
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, errors.Wrapf(domain.ErrInvalidArgument, "amount %s out of range", d)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

type ratingEntryDoc struct {
	UserID string `bson:"user_id"`
	Value  int    `bson:"value"`
}

type ratingDoc struct {
	Sum   int     `bson:"sum"`
	Count int     `bson:"count"`
	Mean  float64 `bson:"mean"`
}

type productDoc struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Price       primitive.Decimal128 `bson:"price"`
	Description string               `bson:"description"`
	Contact     string               `bson:"contact"`
	Stock       int                  `bson:"stock"`
	Images      []string             `bson:"images"`
	Rating      ratingDoc            `bson:"rating"`
	Ratings     []ratingEntryDoc     `bson:"ratings"`
	Version     int64                `bson:"version"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func newProductDoc(p domain.Product) (productDoc, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDoc{}, err
	}
	ratings := make([]ratingEntryDoc, 0, len(p.Ratings))
	for _, r := range p.Ratings {
		ratings = append(ratings, ratingEntryDoc{UserID: r.UserID, Value: r.Value})
	}
	return productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Price:       price,
		Description: p.Description,
		Contact:     p.Contact,
		Stock:       p.Stock,
		Images:      append([]string{}, p.Images...),
		Rating:      ratingDoc{Sum: p.Rating.Sum, Count: p.Rating.Count, Mean: p.Rating.Mean},
		Ratings:     ratings,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func (d productDoc) toDomain() domain.Product {
	var ratings []domain.RatingEntry
	for _, r := range d.Ratings {
		ratings = append(ratings, domain.RatingEntry{UserID: r.UserID, Value: r.Value})
	}
	return domain.Product{
		ID:          d.ID,
		Name:        d.Name,
		Price:       fromDecimal128(d.Price),
		Description: d.Description,
		Contact:     d.Contact,
		Stock:       d.Stock,
		Images:      d.Images,
		Rating:      domain.RatingAggregate{Sum: d.Rating.Sum, Count: d.Rating.Count, Mean: d.Rating.Mean},
		Ratings:     ratings,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type cartLineDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ProductID string    `bson:"product_id"`
	Quantity  int       `bson:"quantity"`
	CreatedAt time.Time `bson:"created_at"`
}

func newCartLineDoc(l domain.CartLine) cartLineDoc {
	return cartLineDoc(l)
}

func (d cartLineDoc) toDomain() domain.CartLine {
	return domain.CartLine(d)
}

type shippingDoc struct {
	Name     string `bson:"name"`
	Phone    string `bson:"phone"`
	Province string `bson:"province"`
	District string `bson:"district"`
	City     string `bson:"city"`
	Address  string `bson:"address"`
}

type orderLineDoc struct {
	ProductID string               `bson:"product_id"`
	Title     string               `bson:"title"`
	Image     string               `bson:"image"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Quantity  int                  `bson:"quantity"`
	LineTotal primitive.Decimal128 `bson:"line_total"`
}

type orderDoc struct {
	ID            string               `bson:"_id"`
	UserID        string               `bson:"user_id"`
	Shipping      shippingDoc          `bson:"shipping"`
	Lines         []orderLineDoc       `bson:"lines"`
	Total         primitive.Decimal128 `bson:"total"`
	PaymentMethod string               `bson:"payment_method"`
	PaymentStatus string               `bson:"payment_status"`
	CreatedAt     time.Time            `bson:"created_at"`
}

func newOrderDoc(o domain.Order) (orderDoc, error) {
	total, err := toDecimal128(o.Total)
	if err != nil {
		return orderDoc{}, err
	}
	lines := make([]orderLineDoc, 0, len(o.Lines))
	for _, l := range o.Lines {
		unit, err := toDecimal128(l.UnitPrice)
		if err != nil {
			return orderDoc{}, err
		}
		lineTotal, err := toDecimal128(l.LineTotal)
		if err != nil {
			return orderDoc{}, err
		}
		lines = append(lines, orderLineDoc{
			ProductID: l.ProductID,
			Title:     l.Title,
			Image:     l.Image,
			UnitPrice: unit,
			Quantity:  l.Quantity,
			LineTotal: lineTotal,
		})
	}
	return orderDoc{
		ID:            o.ID,
		UserID:        o.UserID,
		Shipping:      shippingDoc(o.Shipping),
		Lines:         lines,
		Total:         total,
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		CreatedAt:     o.CreatedAt,
	}, nil
}

func (d orderDoc) toDomain() domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID: l.ProductID,
			Title:     l.Title,
			Image:     l.Image,
			UnitPrice: fromDecimal128(l.UnitPrice),
			Quantity:  l.Quantity,
			LineTotal: fromDecimal128(l.LineTotal),
		})
	}
	return domain.Order{
		ID:            d.ID,
		UserID:        d.UserID,
		Shipping:      domain.ShippingSnapshot(d.Shipping),
		Lines:         lines,
		Total:         fromDecimal128(d.Total),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		CreatedAt:     d.CreatedAt,
	}
}

type profileDoc struct {
	Phone    string `bson:"phone"`
	Province string `bson:"province"`
	District string `bson:"district"`
	City     string `bson:"city"`
	Address  string `bson:"address"`
}

type userDoc struct {
	ID string `bson:"_id"`
	// Omitted while unset so the partial unique index ignores it
	DisplayName string     `bson:"display_name,omitempty"`
	Role        string     `bson:"role"`
	Profile     profileDoc `bson:"profile"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func newUserDoc(u domain.User) userDoc {
	return userDoc{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Profile:     profileDoc(u.Profile),
		CreatedAt:   u.CreatedAt,
	}
}

func (d userDoc) toDomain() domain.User {
	return domain.User{
		ID:          d.ID,
		DisplayName: d.DisplayName,
		Role:        domain.Role(d.Role),
		Profile:     domain.ShippingProfile(d.Profile),
		CreatedAt:   d.CreatedAt,
	}
}

type outboxDoc struct {
	ID          string     `bson:"_id"`
	Type        string     `bson:"type"`
	OrderID     string     `bson:"order_id"`
	Payload     []byte     `bson:"payload"`
	CreatedAt   time.Time  `bson:"created_at"`
	Published   bool       `bson:"published"`
	PublishedAt *time.Time `bson:"published_at,omitempty"`
}

func newOutboxDoc(e domain.OutboxEvent) outboxDoc {
	return outboxDoc{
		ID:        e.ID,
		Type:      e.Type,
		OrderID:   e.OrderID,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

func (d outboxDoc) toDomain() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:        d.ID,
		Type:      d.Type,
		OrderID:   d.OrderID,
		Payload:   d.Payload,
		CreatedAt: d.CreatedAt,
	}
}
