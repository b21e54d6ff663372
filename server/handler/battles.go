package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"battlecore/server/results"
)

// BattlesHandler はバトルの記録を JSON で返します。
type BattlesHandler struct {
	registry results.Registry
}

func NewBattlesHandler(registry results.Registry) *BattlesHandler {
	return &BattlesHandler{registry: registry}
}

// List は GET /battles です。
func (h *BattlesHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.registry.List(r.Context()))
}

// Get は GET /battles/{id} です。
func (h *BattlesHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, results.ErrBattleNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(r.Context(), "failed to write response", "path", r.URL.Path, "err", err)
	}
}
