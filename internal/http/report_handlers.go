package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"kitchenledger/internal/domain"
	"kitchenledger/internal/excel"
)

// eventQuery reads the shared event filters: item_id, recipe_id, from, to,
// order and limit.
func (h *Handler) eventQuery(r *http.Request) (domain.EventQuery, error) {
	query := r.URL.Query()
	loc := h.svc.Location()

	from, err := parseOptionalTime(query.Get("from"), loc, false)
	if err != nil {
		return domain.EventQuery{}, err
	}
	to, err := parseOptionalTime(query.Get("to"), loc, true)
	if err != nil {
		return domain.EventQuery{}, err
	}
	limit, err := parseOptionalInt(query.Get("limit"), 0)
	if err != nil {
		return domain.EventQuery{}, err
	}

	order := domain.OrderDesc
	switch strings.ToLower(strings.TrimSpace(query.Get("order"))) {
	case "", "desc":
	case "asc":
		order = domain.OrderAsc
	default:
		return domain.EventQuery{}, fmt.Errorf("order must be asc or desc")
	}

	return domain.EventQuery{
		InventoryItemID: strings.TrimSpace(query.Get("item_id")),
		RecipeID:        strings.TrimSpace(query.Get("recipe_id")),
		From:            from,
		To:              to,
		Order:           order,
		Limit:           limit,
	}, nil
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	q, err := h.eventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.svc.ListPurchases(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records, "count": len(records)})
}

func (h *Handler) ListWaste(w http.ResponseWriter, r *http.Request) {
	q, err := h.eventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.svc.ListWaste(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (h *Handler) ListUsageLogs(w http.ResponseWriter, r *http.Request) {
	q, err := h.eventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.svc.ListUsageLogs(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs, "count": len(logs)})
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	q, err := h.eventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ledger, err := h.svc.Ledger(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ledger, "count": len(ledger)})
}

func (h *Handler) ExportLedger(w http.ResponseWriter, r *http.Request) {
	q, err := h.eventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ledger, err := h.svc.Ledger(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	breakdown, err := h.svc.CategoryBreakdown(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := excel.WriteLedger(&buf, ledger, breakdown, h.svc.Location()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ledger-%s.xlsx"`, h.svc.Today()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) CategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	q, err := h.eventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.svc.CategoryBreakdown(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
}

func (h *Handler) ItemSales(w http.ResponseWriter, r *http.Request) {
	from, to := dateRange(r)
	totals, err := h.svc.ItemSales(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": totals, "count": len(totals)})
}

func (h *Handler) ItemSalesCollisions(w http.ResponseWriter, r *http.Request) {
	collisions, err := h.svc.ItemSalesCollisions(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": collisions, "count": len(collisions)})
}

func (h *Handler) DailyMetrics(w http.ResponseWriter, r *http.Request) {
	from, to := dateRange(r)
	docs, err := h.svc.DailyMetrics(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
}

func (h *Handler) DailySummary(w http.ResponseWriter, r *http.Request) {
	from, to := dateRange(r)
	if from == "" && to == "" {
		from, to = h.svc.Today(), h.svc.Today()
	}
	summary, err := h.svc.DailySummary(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func dateRange(r *http.Request) (string, string) {
	query := r.URL.Query()
	return strings.TrimSpace(query.Get("from")), strings.TrimSpace(query.Get("to"))
}
