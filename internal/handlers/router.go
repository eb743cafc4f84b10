package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter maps the public routes onto h.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", h.Root).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/todos", h.ListTodos).Methods(http.MethodGet)
	r.HandleFunc("/todos", h.CreateTodo).Methods(http.MethodPost)
	r.HandleFunc("/todos/{id}", h.GetTodo).Methods(http.MethodGet)
	r.HandleFunc("/todos/{id}", h.UpdateTodo).Methods(http.MethodPut)
	r.HandleFunc("/todos/{id}", h.DeleteTodo).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)
	return r
}
