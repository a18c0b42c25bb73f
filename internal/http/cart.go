package http

import (
	"net/http"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type AddItemRequestDTO struct {
	ProductID string `json:"productId"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	Items []domain.CartItem `json:"items"`
	Total decimal.Decimal   `json:"total"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Cart.ListCart(r.Context(), identity(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	for i := range items {
		items[i].Product.Ratings = nil
	}
	respondJSON(w, http.StatusOK, CartResponse{Items: items, Total: h.svc.Cart.ComputeTotal(items)})
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId is required")
		return
	}

	line, err := h.svc.Cart.AddToCart(r.Context(), identity(r).UserID, req.ProductID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, line)
}

func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	line, err := h.svc.Cart.SetQuantity(r.Context(), identity(r).UserID, chi.URLParam(r, "lineId"), req.Quantity)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, line)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cart.RemoveFromCart(r.Context(), identity(r).UserID, chi.URLParam(r, "lineId")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
