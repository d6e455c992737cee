package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownType = errors.New("unknown job type")

// Handler processes one job. A returned error schedules a retry.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Registry maps each known Type to its handler.
type Registry struct {
	handlers map[Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]Handler)}
}

func (r *Registry) Register(t Type, h Handler) error {
	if !t.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if h == nil {
		return fmt.Errorf("jobs: nil handler for %s", t)
	}
	if _, dup := r.handlers[t]; dup {
		return fmt.Errorf("jobs: handler for %s already registered", t)
	}
	r.handlers[t] = h
	return nil
}

// Validate reports every known type that has no handler. Call it at startup.
func (r *Registry) Validate() error {
	var missing []string
	for _, t := range KnownTypes {
		if _, ok := r.handlers[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("jobs: no handler registered for %s", strings.Join(missing, ", "))
	}
	return nil
}

func (r *Registry) lookup(t Type) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
