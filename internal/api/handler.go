// Package api is the read-only observer surface: the current position
// snapshot and engine counters over REST, announcements and position updates
// over websocket. It reads the state cache and republishes already-spoken
// announcements; it is never on the worker loop's critical path.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deckvoice/deckvoice/internal/engine"
	"github.com/deckvoice/deckvoice/internal/realtime"
	realtimeTypes "github.com/deckvoice/deckvoice/pkg/realtime"
)

type Handler struct {
	engine *engine.Engine
	hub    *realtime.Hub
}

func NewHandler(eng *engine.Engine, hub *realtime.Hub) *Handler {
	return &Handler{engine: eng, hub: hub}
}

// Mount registers all observer routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/api/v1/health", h.health)
	r.Get("/api/v1/position", h.position)
	r.Get("/api/v1/status", h.status)
	r.Get("/api/v1/realtime", h.realtimeWebSocket)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) position(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, realtimeTypes.PositionEvent{
		DocumentID:   snap.DocumentID,
		SlideIndex:   snap.SlideIndex,
		CommentCount: snap.CommentCount,
		HasNotes:     snap.HasNotes,
		Seq:          snap.Seq,
	})
}

type statusResponse struct {
	Active  bool         `json:"active"`
	Clients int          `json:"realtime_clients"`
	Stats   engine.Stats `json:"stats"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Active:  h.engine.Active(),
		Clients: h.hub.ClientCount(),
		Stats:   h.engine.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
