package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

var (
	// ErrNotFound is returned when no todo has the requested id.
	ErrNotFound = errors.New("todo not found")
	// ErrInvalidID is returned when an id does not have the driver's id format.
	ErrInvalidID = errors.New("invalid todo id")
	// ErrValidation is returned when a write would break a record invariant.
	ErrValidation = errors.New("validation failed")
)

// Store is the document store holding todo records.
type Store interface {
	List(ctx context.Context, opts models.ListOptions) ([]models.Todo, error)
	Create(ctx context.Context, todo models.Todo) (models.Todo, error)
	Get(ctx context.Context, id string) (models.Todo, error)
	Update(ctx context.Context, id string, patch models.TodoPatch) (models.Todo, error)
	Delete(ctx context.Context, id string) (models.Todo, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	// Driver names the backend, e.g. "mongodb" or "sqlite".
	Driver() string
	Close(ctx context.Context) error
}

// Open picks a driver from the uri scheme:
//
//	mongodb://host/db, mongodb+srv://host/db  MongoDB
//	sqlite://path/to/file.db, sqlite::memory:  SQLite
func Open(ctx context.Context, uri string) (Store, error) {
	switch {
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		return NewMongoStore(ctx, uri)
	case strings.HasPrefix(uri, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(uri, "sqlite:"), "//")
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported store uri scheme in %q", Redact(uri))
	}
}

// Redact hides the password of a connection string for logging.
func Redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return uri
	}
	user, _, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword {
		return uri
	}
	return scheme + "://" + user + ":xxxxx" + rest[at:]
}

func validationError(err error) error {
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
