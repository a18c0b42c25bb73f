package http

import (
	"net/http"

	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const idempotencyHeader = "Idempotency-Key"

type CheckoutRequestDTO struct {
	PaymentMethod string `json:"paymentMethod"`
}

type OrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type PaymentStatusRequestDTO struct {
	Status string `json:"status"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		handleError(w, r, err)
		return
	}

	res, err := h.svc.Checkout.Checkout(r.Context(), checkout.Request{
		UserID:         identity(r).UserID,
		Method:         method,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, res)
	case errors.Is(err, domain.ErrUpstreamUnavailable) && res.OrderID != "":
		// Order exists, payment outcome still unknown
		respondJSON(w, http.StatusAccepted, res)
	default:
		handleError(w, r, err)
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Checkout.ListOrders(r.Context(), identity(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, OrdersResponse{Orders: nonNil(orders)})
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Checkout.CancelOrder(r.Context(), chi.URLParam(r, "id"), identity(r).UserID); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Checkout.ListAllOrders(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, OrdersResponse{Orders: nonNil(orders)})
}

func (h *Handler) RecordPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req PaymentStatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParsePaymentStatus(req.Status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.svc.Checkout.RecordPaymentStatus(r.Context(), chi.URLParam(r, "id"), status); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	if h.svc.History == nil {
		handleError(w, r, errors.Wrap(domain.ErrUpstreamUnavailable, "order history is not configured"))
		return
	}
	limit, ok := queryLimit(r, 100)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_argument", "limit must be a positive integer")
		return
	}

	entries, err := h.svc.History.List(r.Context(), r.URL.Query().Get("userId"), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": nonNil(entries)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
