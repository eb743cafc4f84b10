package handlers

import (
	"context"
	"net/http"
)

// Root handles GET / with a summary of the API.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, RootResponse{
		Message: "Todo API - Blue-Green Deployment",
		Version: h.version,
		Status:  "running",
		Endpoints: Endpoints{
			Health: "/health",
			Todos: TodoEndpoints{
				GetAll: "GET /todos",
				GetOne: "GET /todos/:id",
				Create: "POST /todos",
				Update: "PUT /todos/:id",
				Delete: "DELETE /todos/:id",
			},
		},
		Documentation: "See README.md for full API documentation",
	})
}

// Health handles GET /health. It always answers 200; store reachability is
// reported in the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
	defer cancel()

	store := "connected"
	if err := h.store.Ping(ctx); err != nil {
		store = "disconnected"
		h.logger.Warn("store ping failed", "driver", h.store.Driver(), "err", err)
	}

	now := h.now()
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.started).Seconds(),
		Store:     store,
		Driver:    h.store.Driver(),
	})
}

// NotFound answers any unmatched route.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	SendErrorResponse(w, http.StatusNotFound, "Route not found", nil)
}

// MethodNotAllowed answers a known route called with the wrong verb.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	SendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
}
