package http

import (
	"net/http"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type DisplayNameRequestDTO struct {
	DisplayName string `json:"displayName"`
}

type RoleRequestDTO struct {
	Role string `json:"role"`
}

type UsersResponse struct {
	Users []domain.User `json:"users"`
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Users.GetUser(r.Context(), identity(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var profile domain.ShippingProfile
	if !decodeJSON(w, r, &profile) {
		return
	}
	u, err := h.svc.Users.UpdateShippingProfile(r.Context(), identity(r).UserID, profile)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handler) ChangeDisplayName(w http.ResponseWriter, r *http.Request) {
	var req DisplayNameRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.svc.Users.ChangeDisplayName(r.Context(), identity(r).UserID, req.DisplayName)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users.ListUsers(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, UsersResponse{Users: nonNil(users)})
}

func (h *Handler) ChangeUserRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	u, err := h.svc.Users.ChangeUserRole(r.Context(), identity(r).UserID, chi.URLParam(r, "id"), role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}
