package handlers

import (
	"fmt"

	"github.com/drblury/onesided/internal/runtime/buffer"
	"github.com/drblury/onesided/internal/runtime/wire"
)

// Allocator reserves space for an outgoing message. *buffer.Buffer implements it.
type Allocator interface {
	Allocate(sizeBytes, from, to int, key buffer.Key) ([]byte, int, error)
}

// Source exposes received messages. *buffer.Buffer implements it.
type Source interface {
	HandlerKey(id int) (buffer.Key, error)
	Payload(id int) ([]byte, error)
}

// Handler binds one message layout to the key assigned by a Registry. The
// message refers to caller-owned variables: Post encodes their current values
// and a successful Read overwrites them.
type Handler struct {
	name    string
	key     buffer.Key
	message *wire.Message
}

func (h *Handler) Name() string           { return h.name }
func (h *Handler) Key() buffer.Key        { return h.key }
func (h *Handler) Message() *wire.Message { return h.message }

// Post encodes the message into a slot allocated from a to to.
func (h *Handler) Post(a Allocator, from, to int) (int, error) {
	payload, id, err := a.Allocate(h.message.Size(), from, to, h.key)
	if err != nil {
		return 0, fmt.Errorf("post %s to %d: %w", h.name, to, err)
	}
	if err := h.message.Write(wire.NewCursor(payload)); err != nil {
		return id, fmt.Errorf("post %s to %d: %w", h.name, to, err)
	}
	return id, nil
}

// Read decodes message id when it carries this handler's key. It reports false
// and leaves the bound variables untouched for any other key.
func (h *Handler) Read(src Source, id int) (bool, error) {
	key, err := src.HandlerKey(id)
	if err != nil {
		return false, err
	}
	if key != h.key {
		return false, nil
	}
	payload, err := src.Payload(id)
	if err != nil {
		return false, err
	}
	if err := h.message.Read(wire.NewCursor(payload)); err != nil {
		return false, fmt.Errorf("read %s message %d: %w", h.name, id, err)
	}
	return true, nil
}

func (h *Handler) String() string {
	return fmt.Sprintf("%s(key=%d)", h.name, h.key)
}
