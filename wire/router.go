package wire

import "github.com/pkg/errors"

// Handler processes one decoded message for some connection context
// (the node package supplies its *Peer as ctx). Keeping ctx opaque here
// avoids a wire -> node import cycle while still letting the router do
// typed dispatch (spec.md §4.9 "router dispatches to node handlers").
type Handler func(ctx interface{}, msg Message) error

// Router is the typed dispatch table driving one peer connection's
// read loop. Spec.md §5: handler invocations for a single peer are
// totally ordered because the router is invoked from that peer's own
// read loop, one message at a time.
type Router struct {
	handlers map[Type]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[Type]Handler)}
}

// Handle registers the handler for a message type.
func (r *Router) Handle(t Type, h Handler) {
	r.handlers[t] = h
}

// ErrUnhandledType is returned when no handler is registered for a
// message's type. The caller treats an unknown/unhandled type like an
// invalid message: close the connection (spec.md §6).
var ErrUnhandledType = errors.New("wire: no handler registered for message type")

// Dispatch routes msg to its registered handler.
func (r *Router) Dispatch(ctx interface{}, msg Message) error {
	if !msg.Type.Valid() {
		return ErrUnhandledType
	}
	h, ok := r.handlers[msg.Type]
	if !ok {
		return ErrUnhandledType
	}
	return h(ctx, msg)
}
