package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"kitchenledger/internal/domain"
	"kitchenledger/internal/logger"
)

// StreamInventory sends the full inventory list as a server-sent event on
// connect and after every change, until the client goes away.
func (h *Handler) StreamInventory(w http.ResponseWriter, r *http.Request) {
	send, ok := openStream(w)
	if !ok {
		return
	}
	err := h.svc.SubscribeInventory(r.Context(), func(items []domain.InventoryItem) {
		send("inventory", items)
	})
	if err != nil {
		logger.Warn(r.Context()).Err(err).Msg("inventory stream ended")
	}
}

func (h *Handler) StreamRecipes(w http.ResponseWriter, r *http.Request) {
	send, ok := openStream(w)
	if !ok {
		return
	}
	err := h.svc.SubscribeRecipes(r.Context(), func(recipes []domain.Recipe) {
		send("recipes", recipes)
	})
	if err != nil {
		logger.Warn(r.Context()).Err(err).Msg("recipe stream ended")
	}
}

func openStream(w http.ResponseWriter) (func(event string, payload any), bool) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, false
	}

	return func(event string, payload any) {
		body, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body); err != nil {
			return
		}
		_ = rc.Flush()
	}, true
}
