package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string        `json:"error"`
	Code    string        `json:"code,omitempty"`
	Details string        `json:"details,omitempty"`
	Stock   *StockDetails `json:"stock,omitempty"`
}

// StockDetails names the product behind a stock rejection and what is left of it
type StockDetails struct {
	ProductID string `json:"productId"`
	Available int    `json:"available"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// errorStatus maps a domain error to its HTTP status and machine-readable code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrAlreadyInCart):
		return http.StatusConflict, "already_in_cart"
	case errors.Is(err, domain.ErrDisplayNameTaken):
		return http.StatusConflict, "display_name_taken"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrStaleWrite):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrOutOfStock):
		return http.StatusUnprocessableEntity, "out_of_stock"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "insufficient_stock"
	case errors.Is(err, domain.ErrExceedsStock):
		return http.StatusUnprocessableEntity, "exceeds_stock"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, domain.ErrWindowExpired):
		return http.StatusUnprocessableEntity, "window_expired"
	case errors.Is(err, domain.ErrQuantityOutOfRange):
		return http.StatusBadRequest, "quantity_out_of_range"
	case errors.Is(err, domain.ErrIncompleteShippingProfile):
		return http.StatusBadRequest, "incomplete_shipping_profile"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(err).Error("request failed")
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		resp.Stock = &StockDetails{ProductID: stockErr.ProductID, Available: stockErr.Available}
	}
	respondJSON(w, status, resp)
}
