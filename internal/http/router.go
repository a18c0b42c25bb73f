package http

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/auth"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/history"
	"github.com/fjod/storefront/internal/liveview"
	"github.com/fjod/storefront/internal/rating"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type catalogService interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProducts(ctx context.Context, q domain.ProductQuery) iter.Seq2[domain.Product, error]
	CreateProduct(ctx context.Context, in catalog.ProductInput) (domain.Product, error)
	UpdateProduct(ctx context.Context, id string, in catalog.ProductInput) (domain.Product, error)
	DeleteProduct(ctx context.Context, id string) (catalog.DeleteResult, error)
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}

type cartService interface {
	AddToCart(ctx context.Context, userID, productID string) (domain.CartLine, error)
	SetQuantity(ctx context.Context, userID, lineID string, quantity int) (domain.CartLine, error)
	RemoveFromCart(ctx context.Context, userID, lineID string) error
	ListCart(ctx context.Context, userID string) ([]domain.CartItem, error)
	ComputeTotal(items []domain.CartItem) decimal.Decimal
}

type checkoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
	CancelOrder(ctx context.Context, orderID, requesterID string) error
	ListOrders(ctx context.Context, userID string) ([]domain.Order, error)
	ListAllOrders(ctx context.Context) ([]domain.Order, error)
	RecordPaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) error
}

type ratingService interface {
	SubmitRating(ctx context.Context, productID, userID string, value int) (rating.Result, error)
}

type userService interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	UpdateShippingProfile(ctx context.Context, userID string, profile domain.ShippingProfile) (domain.User, error)
	ChangeDisplayName(ctx context.Context, userID, name string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ChangeUserRole(ctx context.Context, adminID, userID string, role domain.Role) (domain.User, error)
}

type liveFeed interface {
	Subscribe(ctx context.Context, collection domain.Collection, filter liveview.Filter) (*liveview.Subscription, error)
}

type historyReader interface {
	List(ctx context.Context, userID string, limit int) ([]history.Entry, error)
}

type authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// Services is everything the HTTP surface talks to. History may be nil when the
// order history projection is not configured.
type Services struct {
	Catalog  catalogService
	Cart     cartService
	Checkout checkoutService
	Ratings  ratingService
	Users    userService
	Live     liveFeed
	History  historyReader
}

type Handler struct {
	svc       Services
	keepAlive time.Duration
}

// NewRouter builds the full REST and SSE surface
func NewRouter(svc Services, authn authenticator, timeout time.Duration) http.Handler {
	h := &Handler{svc: svc, keepAlive: 15 * time.Second}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		// Streams stay open for as long as the client listens
		r.With(authn.Middleware).Get("/live/{collection}", h.Live)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Get("/products", h.ListProducts)
			r.Get("/products/{id}", h.GetProduct)

			r.Group(func(r chi.Router) {
				r.Use(authn.Middleware)

				r.Post("/products/{id}/ratings", h.SubmitRating)

				r.Route("/cart", func(r chi.Router) {
					r.Get("/", h.GetCart)
					r.Post("/items", h.AddItem)
					r.Patch("/items/{lineId}", h.UpdateQuantity)
					r.Delete("/items/{lineId}", h.RemoveItem)
				})

				r.Post("/checkout", h.Checkout)
				r.Get("/orders", h.ListOrders)
				r.Delete("/orders/{id}", h.CancelOrder)

				r.Get("/me", h.GetMe)
				r.Put("/me/profile", h.UpdateProfile)
				r.Put("/me/display-name", h.ChangeDisplayName)

				r.Route("/admin", func(r chi.Router) {
					r.Use(auth.RequireAdmin)

					r.Post("/products", h.CreateProduct)
					r.Put("/products/{id}", h.UpdateProduct)
					r.Delete("/products/{id}", h.DeleteProduct)
					r.Post("/products/{id}/stock", h.AdjustStock)

					r.Get("/users", h.ListUsers)
					r.Put("/users/{id}/role", h.ChangeUserRole)

					r.Get("/orders", h.ListAllOrders)
					r.Put("/orders/{id}/payment-status", h.RecordPaymentStatus)

					r.Get("/order-history", h.OrderHistory)
				})
			})
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}

// identity is only called behind the authenticator
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
