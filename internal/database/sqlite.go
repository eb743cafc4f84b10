package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS todos (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL CHECK (title <> ''),
	description TEXT NOT NULL DEFAULT '',
	completed   BOOLEAN NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_todos_created_at ON todos (created_at DESC);
`

var todoColumns = []string{"id", "title", "description", "completed", "created_at", "updated_at"}

// SQLiteStore keeps todos in a single SQLite table. Timestamps are stored as
// unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewSQLiteStore opens the database file at path (":memory:" for a private
// in-memory database) and creates the todos table if needed.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps an in-memory database alive and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create todos table: %w", err)
	}

	return &SQLiteStore{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (models.Todo, error) {
	var (
		todo             models.Todo
		created, updated int64
	)
	if err := row.Scan(&todo.ID, &todo.Title, &todo.Description, &todo.Completed, &created, &updated); err != nil {
		return models.Todo{}, err
	}
	todo.CreatedAt = time.UnixMilli(created).UTC()
	todo.UpdatedAt = time.UnixMilli(updated).UTC()
	return todo, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts models.ListOptions) ([]models.Todo, error) {
	query := s.sq.Select(todoColumns...).From("todos").OrderBy("created_at DESC", "rowid DESC")
	if opts.Completed != nil {
		query = query.Where(squirrel.Eq{"completed": *opts.Completed})
	}
	// SQLite only accepts OFFSET together with LIMIT.
	if opts.Limit > 0 {
		query = query.Limit(uint64(opts.Limit)).Offset(uint64(opts.Skip))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	todos := []models.Todo{}
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read todos: %w", err)
	}
	return todos, nil
}

func (s *SQLiteStore) Create(ctx context.Context, todo models.Todo) (models.Todo, error) {
	if err := todo.Validate(); err != nil {
		return models.Todo{}, validationError(err)
	}
	todo.ID = uuid.NewString()

	stmt, args, err := s.sq.Insert("todos").Columns(todoColumns...).
		Values(todo.ID, todo.Title, todo.Description, todo.Completed, todo.CreatedAt.UnixMilli(), todo.UpdatedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return models.Todo{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return models.Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	todo.CreatedAt = todo.CreatedAt.UTC()
	todo.UpdatedAt = todo.UpdatedAt.UTC()
	return todo, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Todo, error) {
	if err := checkUUID(id); err != nil {
		return models.Todo{}, err
	}
	return s.selectByID(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) selectByID(ctx context.Context, q queryRower, id string) (models.Todo, error) {
	stmt, args, err := s.sq.Select(todoColumns...).From("todos").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return models.Todo{}, fmt.Errorf("build select: %w", err)
	}
	todo, err := scanTodo(q.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Todo{}, ErrNotFound
	}
	if err != nil {
		return models.Todo{}, fmt.Errorf("select todo %s: %w", id, err)
	}
	return todo, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch models.TodoPatch) (models.Todo, error) {
	if err := checkUUID(id); err != nil {
		return models.Todo{}, err
	}
	if err := patch.Validate(); err != nil {
		return models.Todo{}, validationError(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Todo{}, fmt.Errorf("begin update: %w", err)
	}

	todo, err := s.selectByID(ctx, tx, id)
	if err != nil {
		tx.Rollback()
		return models.Todo{}, err
	}
	patch.Apply(&todo)

	stmt, args, err := s.sq.Update("todos").SetMap(map[string]any{
		"title":       todo.Title,
		"description": todo.Description,
		"completed":   todo.Completed,
		"updated_at":  todo.UpdatedAt.UnixMilli(),
	}).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		tx.Rollback()
		return models.Todo{}, fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		tx.Rollback()
		return models.Todo{}, fmt.Errorf("update todo %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return models.Todo{}, fmt.Errorf("commit update: %w", err)
	}
	return todo, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (models.Todo, error) {
	if err := checkUUID(id); err != nil {
		return models.Todo{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Todo{}, fmt.Errorf("begin delete: %w", err)
	}

	todo, err := s.selectByID(ctx, tx, id)
	if err != nil {
		tx.Rollback()
		return models.Todo{}, err
	}

	stmt, args, err := s.sq.Delete("todos").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		tx.Rollback()
		return models.Todo{}, fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		tx.Rollback()
		return models.Todo{}, fmt.Errorf("delete todo %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return models.Todo{}, fmt.Errorf("commit delete: %w", err)
	}
	return todo, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Driver() string { return "sqlite" }

// Close closes the database connection.
func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

func checkUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
