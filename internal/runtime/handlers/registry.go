package handlers

import (
	"fmt"
	"sync"

	"github.com/drblury/onesided/internal/runtime/buffer"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	"github.com/drblury/onesided/internal/runtime/wire"
)

// Registry assigns handler keys in registration order and maps keys back to
// handlers on receive. Handlers are never removed.
//
// Keys double as point-to-point tags in the broadcast exchange, so every rank
// must register the same handlers in the same order.
type Registry struct {
	mu     sync.RWMutex
	next   buffer.Key
	byKey  map[buffer.Key]*Handler
	byName map[string]*Handler
	order  []*Handler
}

// NewRegistry creates an empty registry. The first handler gets key 0.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[buffer.Key]*Handler),
		byName: make(map[string]*Handler),
	}
}

// Register validates msg and binds it to the next key.
func (r *Registry) Register(name string, msg *wire.Message) (*Handler, error) {
	if name == "" {
		return nil, errspkg.ErrHandlerNameRequired
	}
	if msg == nil {
		return nil, errspkg.ErrMessageRequired
	}
	if err := msg.Err(); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDuplicateHandler, name)
	}

	h := &Handler{name: name, key: r.next, message: msg}
	r.next++
	r.byKey[h.key] = h
	r.byName[name] = h
	r.order = append(r.order, h)
	return h, nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, msg *wire.Message) *Handler {
	h, err := r.Register(name, msg)
	if err != nil {
		panic(err)
	}
	return h
}

func (r *Registry) Lookup(key buffer.Key) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byKey[key]
	return h, ok
}

func (r *Registry) ByName(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Handlers returns the handlers in key order.
func (r *Registry) Handlers() []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handler, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Dispatch decodes message id with the handler owning its key.
func (r *Registry) Dispatch(src Source, id int) (*Handler, error) {
	key, err := src.HandlerKey(id)
	if err != nil {
		return nil, err
	}
	h, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %d", errspkg.ErrUnknownHandler, key)
	}
	if _, err := h.Read(src, id); err != nil {
		return h, err
	}
	return h, nil
}
