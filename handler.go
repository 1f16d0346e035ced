package intercept

import (
	"context"
)

// Kind is the declared kind of a primary handler.
type Kind uint8

const (
	// Observing handlers see every matching message and are not expected
	// to cancel it. This is the zero value.
	Observing Kind = iota

	// Cancelable handlers report whether the message should be cancelled.
	Cancelable
)

func (k Kind) String() string {
	switch k {
	case Observing:
		return "observing"
	case Cancelable:
		return "cancelable"
	default:
		return "unknown"
	}
}

// Observer watches messages of type T without cancelling them.
//
// Example:
//
//	type ChatLog struct {
//	    w io.Writer
//	}
//
//	func (c *ChatLog) Observe(ctx context.Context, msg *ChatMessage) error {
//	    _, err := fmt.Fprintf(c.w, "%s: %s\n", msg.From, msg.Text)
//	    return err
//	}
type Observer[T any] interface {
	Observe(ctx context.Context, msg T) error
}

// ObserverFunc is a function adapter for Observer.
type ObserverFunc[T any] func(ctx context.Context, msg T) error

// Observe implements the Observer interface.
func (f ObserverFunc[T]) Observe(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// Canceler inspects messages of type T and returns true to cancel them.
// A cancelled message is not forwarded downstream, no later primary handler
// sees it, and the confirmation handlers for T run.
//
// Example:
//
//	type BanList struct {
//	    banned map[string]bool
//	}
//
//	func (b *BanList) Intercept(ctx context.Context, msg *LoginMessage) (bool, error) {
//	    return b.banned[msg.User], nil
//	}
type Canceler[T any] interface {
	Intercept(ctx context.Context, msg T) (bool, error)
}

// CancelerFunc is a function adapter for Canceler.
type CancelerFunc[T any] func(ctx context.Context, msg T) (bool, error)

// Intercept implements the Canceler interface.
func (f CancelerFunc[T]) Intercept(ctx context.Context, msg T) (bool, error) {
	return f(ctx, msg)
}

// Confirmer runs after a message of type T has been cancelled.
type Confirmer[T any] interface {
	Confirm(ctx context.Context, msg T) error
}

// ConfirmerFunc is a function adapter for Confirmer.
type ConfirmerFunc[T any] func(ctx context.Context, msg T) error

// Confirm implements the Confirmer interface.
func (f ConfirmerFunc[T]) Confirm(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// invoker wraps a handler of any shape so descriptors of different message
// types can live in one map. cancel is the handler's runtime vote.
type invoker func(ctx context.Context, msg any) (cancel bool, err error)

// Descriptor describes one registered handler. Descriptors are created at
// registration and never change.
type Descriptor struct {
	// Owner identifies the listener or component that registered the
	// handler.
	Owner string

	// Method is the handler's method name, empty for function handlers.
	Method string

	// Kind is the declared kind. Dispatch looks only at the runtime result,
	// so an Observing handler that returns true still cancels.
	Kind Kind

	// Type is the exact message type the handler receives.
	Type MessageType

	// Confirm marks a cancel-confirmation handler.
	Confirm bool

	invoke invoker
}

// Name identifies the handler in logs and errors.
func (d Descriptor) Name() string {
	if d.Method == "" {
		return d.Owner
	}
	return d.Owner + "." + d.Method
}
