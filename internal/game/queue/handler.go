// Package queue drives the deferred-action lifecycle: enqueueing actions on
// behalf of commanders, claiming and resolving due entries in batches, and
// sweeping entries abandoned by crashed workers.
package queue

import (
	"context"
	"fmt"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
)

// Handler resolves one kind of due action.
//
// Handle applies the action's effects to the world. A nil return completes
// the entry. An error wrapped with Permanent fails the entry immediately;
// any other error is treated as transient and the entry is retried until
// its budget runs out.
type Handler interface {
	Type() action.Type
	Handle(ctx context.Context, e *action.Entry) error
}

// PermanentError marks a handler failure that retrying cannot fix, such as
// the action's target no longer existing.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the processor fails the entry without retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Registry maps action types to their handlers.
type Registry struct {
	handlers map[action.Type]Handler
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[action.Type]Handler)}
}

// Register adds a handler for its declared action type.
//
// Postcondition: Returns an error if the type is invalid or already has a
// handler; the registry is unchanged in that case.
func (r *Registry) Register(h Handler) error {
	t := h.Type()
	if !t.Valid() {
		return fmt.Errorf("registering handler for unknown action type %q", t)
	}
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler for action type %q already registered", t)
	}
	r.handlers[t] = h
	return nil
}

// Get returns the handler for t, if one is registered.
func (r *Registry) Get(t action.Type) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
