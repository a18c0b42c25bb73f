package http

import (
	"net/http"
	"strconv"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type ProductsResponse struct {
	Products []domain.Product `json:"products"`
}

type RatingRequestDTO struct {
	Value int `json:"value"`
}

type StockRequestDTO struct {
	Delta int `json:"delta"`
}

type StockResponse struct {
	ProductID string `json:"productId"`
	Stock     int    `json:"stock"`
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	sort, err := domain.ParseProductSort(r.URL.Query().Get("sort"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	products := []domain.Product{}
	q := domain.ProductQuery{Text: r.URL.Query().Get("q"), Sort: sort}
	for p, err := range h.svc.Catalog.ListProducts(r.Context(), q) {
		if err != nil {
			handleError(w, r, err)
			return
		}
		p.Ratings = nil
		products = append(products, p)
	}
	respondJSON(w, http.StatusOK, ProductsResponse{Products: products})
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	p.Ratings = nil
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	var req RatingRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Ratings.SubmitRating(r.Context(), chi.URLParam(r, "id"), identity(r).UserID, req.Value)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.svc.Catalog.CreateProduct(r.Context(), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.svc.Catalog.UpdateProduct(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Catalog.DeleteProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req StockRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	stock, err := h.svc.Catalog.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, StockResponse{ProductID: id, Stock: stock})
}

// queryLimit reads a positive limit parameter, falling back to def
func queryLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
