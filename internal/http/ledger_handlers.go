package http

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"kitchenledger/internal/domain"
)

func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)

	record, replayed, err := h.svc.RecordPurchase(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdStatus(replayed), map[string]any{"purchase": record, "replayed": replayed})
}

func (h *Handler) RecordWaste(w http.ResponseWriter, r *http.Request) {
	var req domain.WasteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)

	entry, replayed, err := h.svc.RecordWaste(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdStatus(replayed), map[string]any{"waste": entry, "replayed": replayed})
}

func (h *Handler) ExecuteProduction(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)

	log, replayed, err := h.svc.ExecuteProduction(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdStatus(replayed), map[string]any{"usage_log": log, "replayed": replayed})
}

type previewRequest struct {
	RecipeID       string          `json:"recipe_id"`
	TargetQuantity decimal.Decimal `json:"target_quantity"`
}

func (h *Handler) PreviewProduction(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.PreviewProduction(r.Context(), req.RecipeID, req.TargetQuantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)

	result, err := h.svc.RecordSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, createdStatus(result.Replayed), result)
}

// idempotencyKey prefers the body field and falls back to the header.
func idempotencyKey(r *http.Request, fromBody string) string {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	return strings.TrimSpace(r.Header.Get(idempotencyHeader))
}

func createdStatus(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}
