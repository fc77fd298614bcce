package bus

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownMethod is returned for messages naming no registered handler.
var ErrUnknownMethod = errors.New("bus: unknown method")

// HandlerFunc processes one message. raw is the encoded payload; decode it with
// Decode. A non-nil result is sent back to callers of Call.
type HandlerFunc func(ctx context.Context, rc RequestContext, raw []byte) (any, error)

// Dispatcher routes methods of one topic to handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Handle registers handler for method. Registering a method twice panics.
func (d *Dispatcher) Handle(method string, handler HandlerFunc) {
	if _, exists := d.handlers[method]; exists {
		panic(fmt.Sprintf("bus.Dispatcher: duplicate handler for method %q", method))
	}
	d.handlers[method] = handler
}

// Methods lists the registered method names.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.handlers))
	for m := range d.handlers {
		out = append(out, m)
	}
	return out
}

// Dispatch invokes the handler registered for method.
func (d *Dispatcher) Dispatch(ctx context.Context, rc RequestContext, method string, raw []byte) (any, error) {
	handler, ok := d.handlers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return handler(ctx, rc, raw)
}

// Decode unpacks a handler payload into v.
func Decode(raw []byte, v any) error {
	if len(raw) == 0 {
		return errors.New("empty payload")
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
