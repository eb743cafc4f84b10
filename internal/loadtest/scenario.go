package loadtest

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/Paul-frank/bluegreen-todo-api/internal/client"
)

// scenario is one virtual-user iteration: health, list, create, get, update
// and delete, with think time between steps.
type scenario struct {
	client *client.Client
	think  time.Duration
	checks *checks
}

func randomTodo() client.CreateInput {
	return client.CreateInput{
		Title:       "Todo " + uuid.NewString()[:8],
		Description: "Description " + uuid.NewString()[:8],
		Completed:   rand.IntN(2) == 1,
	}
}

// iteration runs the steps in order and reports whether it ran to the end.
// Closing stop or cancelling ctx cuts it short, and the per-id steps are
// skipped when the create failed. A todo that was created is always deleted
// unless ctx is cancelled, so retiring a user leaves no records behind.
func (s *scenario) iteration(ctx context.Context, stop <-chan struct{}) bool {
	health, err := s.client.Health(ctx)
	s.check(ctx, "health check status is 200", err == nil)
	s.check(ctx, "health check has status ok", err == nil && health.Status == "ok")
	if !s.pause(ctx, stop, s.think) {
		return false
	}

	list, err := s.client.List(ctx, client.ListParams{})
	s.check(ctx, "get todos status is 200", err == nil)
	s.check(ctx, "todos response has success", err == nil && list.Success)
	if !s.pause(ctx, stop, s.think) {
		return false
	}

	created, err := s.client.Create(ctx, randomTodo())
	s.check(ctx, "create todo status is 201", err == nil)
	if !s.check(ctx, "create todo returns id", err == nil && created.ID != "") {
		s.pause(ctx, stop, 2*s.think)
		return ctx.Err() == nil
	}

	complete := s.pause(ctx, stop, s.think)
	if complete {
		got, err := s.client.Get(ctx, created.ID)
		s.check(ctx, "get todo status is 200", err == nil)
		s.check(ctx, "get todo returns correct id", err == nil && got.ID == created.ID)
		complete = s.pause(ctx, stop, s.think)
	}
	if complete {
		done := true
		updated, err := s.client.Update(ctx, created.ID, client.UpdateInput{Completed: &done})
		s.check(ctx, "update todo status is 200", err == nil)
		s.check(ctx, "todo is marked completed", err == nil && updated.Completed)
		complete = s.pause(ctx, stop, s.think)
	}
	if ctx.Err() != nil {
		return false
	}

	_, err = s.client.Delete(ctx, created.ID)
	s.check(ctx, "delete todo status is 200", err == nil)
	if !complete {
		return false
	}

	s.pause(ctx, stop, 2*s.think)
	return ctx.Err() == nil
}

// check records a named assertion unless the run is already over.
func (s *scenario) check(ctx context.Context, name string, ok bool) bool {
	if ctx.Err() != nil {
		return false
	}
	return s.checks.record(name, ok)
}

// pause sleeps for d and reports whether the user should carry on.
func (s *scenario) pause(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
