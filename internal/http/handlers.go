// Package http exposes the ledger service as a JSON API.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
	"kitchenledger/internal/excel"
	"kitchenledger/internal/logger"
	"kitchenledger/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Inventory

func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListInventory(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) GetInventoryItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetInventoryItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) CreateInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryItemInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.svc.CreateInventoryItem(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) PatchInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryItemPatch
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.svc.UpdateInventoryItem(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteInventoryItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteInventoryItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ImportInventoryExcel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	rows, err := excel.ParseInventoryRows(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, updated, err := h.svc.ImportInventory(r.Context(), rows)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":  header.Filename,
		"total_rows": len(rows),
		"created":    created,
		"updated":    updated,
	})
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.LowStock(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
}

func (h *Handler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.InventorySummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Recipes

func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.svc.ListRecipes(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recipes, "count": len(recipes)})
}

func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := h.svc.GetRecipe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (h *Handler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req domain.RecipeInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipe, err := h.svc.CreateRecipe(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recipe)
}

func (h *Handler) PatchRecipe(w http.ResponseWriter, r *http.Request) {
	var req domain.RecipePatch
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recipe, err := h.svc.UpdateRecipe(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

func (h *Handler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRecipe(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps the domain error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var shortage *domain.InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"shortages": shortage.Shortages,
		})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidRecipe):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTransientStore):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error(r.Context()).Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseOptionalInt(raw string, defaultValue int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", raw)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("value cannot be negative")
	}
	return parsed, nil
}

// parseOptionalTime accepts RFC 3339 or a bare local date. A bare date means
// the start of that day in loc, or its last instant when endOfDay is set.
func parseOptionalTime(raw string, loc *time.Location, endOfDay bool) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return &parsed, nil
	}
	parsed, err := time.ParseInLocation(dailymetrics.DateLayout, value, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid time: %s", raw)
	}
	if endOfDay {
		parsed = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
