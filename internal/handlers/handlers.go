package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/Paul-frank/bluegreen-todo-api/internal/database"
	"github.com/Paul-frank/bluegreen-todo-api/internal/logging"
	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

// Handler serves the todo routes against a store.
type Handler struct {
	store       database.Store
	version     string
	logger      *log.Logger
	now         func() time.Time
	started     time.Time
	pingTimeout time.Duration
}

// Option customises a Handler.
type Option func(*Handler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithPingTimeout bounds the store ping done by the health check.
func WithPingTimeout(d time.Duration) Option {
	return func(h *Handler) { h.pingTimeout = d }
}

// New returns a Handler that tags every response with version.
func New(store database.Store, version string, logger *log.Logger, opts ...Option) *Handler {
	h := &Handler{
		store:       store,
		version:     version,
		logger:      logger,
		now:         time.Now,
		pingTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// timestamp is the store time for a write: UTC, millisecond precision.
func (h *Handler) timestamp() time.Time {
	return h.now().UTC().Truncate(time.Millisecond)
}

// ListTodos handles GET /todos.
func (h *Handler) ListTodos(w http.ResponseWriter, r *http.Request) {
	opts, page, reqErr := parseListQuery(r.URL.Query())
	if reqErr != nil {
		SendErrorResponse(w, reqErr.status, reqErr.message, reqErr.err)
		return
	}

	todos, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.storeError(w, r, err, "Error fetching todos")
		return
	}
	if todos == nil {
		todos = []models.Todo{}
	}

	WriteJSON(w, http.StatusOK, ListResponse{
		Success: true,
		Count:   len(todos),
		Version: h.version,
		Page:    page,
		Limit:   opts.Limit,
		Data:    todos,
	})
}

// CreateTodo handles POST /todos.
func (h *Handler) CreateTodo(w http.ResponseWriter, r *http.Request) {
	in, reqErr := decodeTodoBody(r, createTodoSchema, true)
	if reqErr != nil {
		SendErrorResponse(w, reqErr.status, reqErr.message, reqErr.err)
		return
	}

	now := h.timestamp()
	todo := models.Todo{
		Title:     *in.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Description != nil {
		todo.Description = *in.Description
	}
	if in.Completed != nil {
		todo.Completed = *in.Completed
	}

	saved, err := h.store.Create(r.Context(), todo)
	if err != nil {
		h.storeError(w, r, err, "Error creating todo")
		return
	}

	WriteJSON(w, http.StatusCreated, TodoResponse{Success: true, Version: h.version, Data: saved})
}

// GetTodo handles GET /todos/{id}.
func (h *Handler) GetTodo(w http.ResponseWriter, r *http.Request) {
	todo, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.storeError(w, r, err, "Error fetching todo")
		return
	}

	WriteJSON(w, http.StatusOK, TodoResponse{Success: true, Version: h.version, Data: todo})
}

// UpdateTodo handles PUT /todos/{id}. Only fields present in the body change.
func (h *Handler) UpdateTodo(w http.ResponseWriter, r *http.Request) {
	in, reqErr := decodeTodoBody(r, updateTodoSchema, false)
	if reqErr != nil {
		SendErrorResponse(w, reqErr.status, reqErr.message, reqErr.err)
		return
	}

	patch := models.TodoPatch{
		Title:       in.Title,
		Description: in.Description,
		Completed:   in.Completed,
		UpdatedAt:   h.timestamp(),
	}
	todo, err := h.store.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		h.storeError(w, r, err, "Error updating todo")
		return
	}

	WriteJSON(w, http.StatusOK, TodoResponse{Success: true, Version: h.version, Data: todo})
}

// DeleteTodo handles DELETE /todos/{id} and returns the removed record.
func (h *Handler) DeleteTodo(w http.ResponseWriter, r *http.Request) {
	todo, err := h.store.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.storeError(w, r, err, "Error deleting todo")
		return
	}

	WriteJSON(w, http.StatusOK, TodoResponse{
		Success: true,
		Version: h.version,
		Message: "Todo deleted successfully",
		Data:    todo,
	})
}

// storeError maps store errors to responses. Anything unrecognised is a 500
// carrying the driver's message.
func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, database.ErrInvalidID):
		SendErrorResponse(w, http.StatusBadRequest, "Invalid todo id", err)
	case errors.Is(err, database.ErrNotFound):
		SendErrorResponse(w, http.StatusNotFound, "Todo not found", nil)
	case errors.Is(err, database.ErrValidation):
		SendErrorResponse(w, http.StatusBadRequest, "Validation failed", err)
	default:
		h.logger.Error(message,
			"err", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", logging.RequestID(r.Context()),
		)
		SendErrorResponse(w, http.StatusInternalServerError, message, err)
	}
}
