package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

// ErrorResponse is the envelope of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ListResponse is returned by GET /todos.
type ListResponse struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Version string        `json:"version"`
	Page    int64         `json:"page,omitempty"`
	Limit   int64         `json:"limit,omitempty"`
	Data    []models.Todo `json:"data"`
}

// TodoResponse is returned by the single-record endpoints.
type TodoResponse struct {
	Success bool        `json:"success"`
	Version string      `json:"version"`
	Message string      `json:"message,omitempty"`
	Data    models.Todo `json:"data"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
	Store     string    `json:"store"`
	Driver    string    `json:"driver"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Message       string    `json:"message"`
	Version       string    `json:"version"`
	Status        string    `json:"status"`
	Endpoints     Endpoints `json:"endpoints"`
	Documentation string    `json:"documentation"`
}

// Endpoints lists the public routes.
type Endpoints struct {
	Health string        `json:"health"`
	Todos  TodoEndpoints `json:"todos"`
}

type TodoEndpoints struct {
	GetAll string `json:"getAll"`
	GetOne string `json:"getOne"`
	Create string `json:"create"`
	Update string `json:"update"`
	Delete string `json:"delete"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// SendErrorResponse writes the failure envelope. err is optional.
func SendErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	resp := ErrorResponse{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	WriteJSON(w, statusCode, resp)
}
