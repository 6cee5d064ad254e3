package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flyerbird/flyerbird/internal/adstore"
)

// RetailerStore is the slice of the ad store the retailer endpoints need.
type RetailerStore interface {
	ListRetailers(ctx context.Context) ([]*adstore.Retailer, error)
	CreateRetailer(ctx context.Context, name string, website *string) (*adstore.Retailer, error)
}

type retailerHandler struct {
	store  RetailerStore
	logger *slog.Logger
}

// listRetailers handles GET /api/v1/retailers.
func (h *retailerHandler) listRetailers(w http.ResponseWriter, r *http.Request) {
	retailers, err := h.store.ListRetailers(r.Context())
	if err != nil {
		h.logger.Error("listing retailers", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list retailers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"retailers": retailers,
		"total":     len(retailers),
	})
}

// createRetailerRequest is the request body for POST /api/v1/retailers.
type createRetailerRequest struct {
	Name    string  `json:"name"`
	Website *string `json:"website,omitempty"`
}

// createRetailer handles POST /api/v1/retailers.
func (h *retailerHandler) createRetailer(w http.ResponseWriter, r *http.Request) {
	var body createRetailerRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "retailer name is required")
		return
	}

	retailer, err := h.store.CreateRetailer(r.Context(), body.Name, body.Website)
	if err != nil {
		if errors.Is(err, adstore.ErrRetailerExists) {
			writeError(w, http.StatusConflict, "retailer_exists", "a retailer with that name already exists")
			return
		}
		h.logger.Error("creating retailer", "error", err, "name", body.Name)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create retailer")
		return
	}

	writeJSON(w, http.StatusCreated, retailer)
}
