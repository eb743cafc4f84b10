package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrTitleRequired is returned when a todo would be stored without a title.
var ErrTitleRequired = errors.New("title is required")

// Todo is the single persisted record.
type Todo struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MarshalJSON writes the id under both "_id" and "id" so Mongo-style and
// plain clients can read it.
func (t Todo) MarshalJSON() ([]byte, error) {
	type todo Todo
	return json.Marshal(struct {
		todo
		AliasID string `json:"id"`
	}{todo: todo(t), AliasID: t.ID})
}

// Validate checks the record invariants that every store enforces.
func (t Todo) Validate() error {
	if t.Title == "" {
		return ErrTitleRequired
	}
	return nil
}

// TodoPatch carries a partial update. Nil fields keep their stored value;
// UpdatedAt is always written.
type TodoPatch struct {
	Title       *string
	Description *string
	Completed   *bool
	UpdatedAt   time.Time
}

// Validate rejects a patch that would clear the title.
func (p TodoPatch) Validate() error {
	if p.Title != nil && *p.Title == "" {
		return ErrTitleRequired
	}
	return nil
}

// Apply writes the patch onto t. The resulting UpdatedAt is strictly after
// the previous one even when the clock has not moved.
func (p TodoPatch) Apply(t *Todo) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	t.UpdatedAt = NextUpdatedAt(t.UpdatedAt, p.UpdatedAt)
}

// NextUpdatedAt returns now, or prev plus one millisecond when now does not
// come after prev.
func NextUpdatedAt(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Millisecond)
}

// ListOptions filters and pages a list query. Zero Limit means no limit.
type ListOptions struct {
	Completed *bool
	Skip      int64
	Limit     int64
}
