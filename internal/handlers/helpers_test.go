package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Paul-frank/bluegreen-todo-api/internal/database"
	"github.com/Paul-frank/bluegreen-todo-api/internal/logging"
	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

// memStore is an in-memory database.Store with ObjectID-shaped ids.
type memStore struct {
	mu      sync.Mutex
	seq     int
	todos   map[string]models.Todo
	order   map[string]int
	err     error
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{todos: map[string]models.Todo{}, order: map[string]int{}}
}

func checkID(id string) error {
	if len(id) != 24 {
		return fmt.Errorf("%w: %q", database.ErrInvalidID, id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return fmt.Errorf("%w: %q", database.ErrInvalidID, id)
	}
	return nil
}

func (s *memStore) List(_ context.Context, opts models.ListOptions) ([]models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	out := []models.Todo{}
	for _, todo := range s.todos {
		if opts.Completed != nil && todo.Completed != *opts.Completed {
			continue
		}
		out = append(out, todo)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	if opts.Limit > 0 {
		if opts.Skip >= int64(len(out)) {
			return []models.Todo{}, nil
		}
		out = out[opts.Skip:]
		if int64(len(out)) > opts.Limit {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, todo models.Todo) (models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Todo{}, s.err
	}
	if err := todo.Validate(); err != nil {
		return models.Todo{}, fmt.Errorf("%w: %v", database.ErrValidation, err)
	}
	s.seq++
	todo.ID = fmt.Sprintf("%024x", s.seq)
	s.todos[todo.ID] = todo
	s.order[todo.ID] = s.seq
	return todo, nil
}

func (s *memStore) Get(_ context.Context, id string) (models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Todo{}, s.err
	}
	if err := checkID(id); err != nil {
		return models.Todo{}, err
	}
	todo, ok := s.todos[id]
	if !ok {
		return models.Todo{}, database.ErrNotFound
	}
	return todo, nil
}

func (s *memStore) Update(_ context.Context, id string, patch models.TodoPatch) (models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Todo{}, s.err
	}
	if err := checkID(id); err != nil {
		return models.Todo{}, err
	}
	if err := patch.Validate(); err != nil {
		return models.Todo{}, fmt.Errorf("%w: %v", database.ErrValidation, err)
	}
	todo, ok := s.todos[id]
	if !ok {
		return models.Todo{}, database.ErrNotFound
	}
	patch.Apply(&todo)
	s.todos[id] = todo
	return todo, nil
}

func (s *memStore) Delete(_ context.Context, id string) (models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Todo{}, s.err
	}
	if err := checkID(id); err != nil {
		return models.Todo{}, err
	}
	todo, ok := s.todos[id]
	if !ok {
		return models.Todo{}, database.ErrNotFound
	}
	delete(s.todos, id)
	return todo, nil
}

func (s *memStore) Ping(context.Context) error  { return s.pingErr }
func (s *memStore) Driver() string              { return "memory" }
func (s *memStore) Close(context.Context) error { return nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.todos)
}

// stepClock advances one second on every reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestRouter(t *testing.T, version string) (*memStore, http.Handler) {
	t.Helper()
	store := newMemStore()
	h := New(store, version, logging.Discard(), WithClock(newStepClock().Now))
	return store, NewRouter(h)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v\nbody: %s", v, err, rec.Body.String())
	}
	return v
}

func mustCreate(t *testing.T, h http.Handler, body string) models.Todo {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/todos", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s: expected 201, got %d: %s", body, rec.Code, rec.Body.String())
	}
	return decode[TodoResponse](t, rec).Data
}
