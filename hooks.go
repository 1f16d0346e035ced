package intercept

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OnDispatchFunc is called on the main context just before the primary
// handlers for a message run.
type OnDispatchFunc func(ctx context.Context, t MessageType)

// OnCancelFunc is called when a primary handler cancels a message, before
// the confirmation handlers run.
type OnCancelFunc func(ctx context.Context, t MessageType, by Descriptor)

// OnHandlerErrorFunc is called when a handler returns an error or panics.
// err is always an *InvocationError.
type OnHandlerErrorFunc func(ctx context.Context, t MessageType, h Descriptor, err error)

// OnUnavailableFunc is called when a message could not be moved onto the
// main context. The message is forwarded as not cancelled.
type OnUnavailableFunc func(ctx context.Context, t MessageType, err error)

// OnCompleteFunc is called after all handlers for a message have run.
type OnCompleteFunc func(ctx context.Context, t MessageType, cancelled bool, duration time.Duration)

// OnAttachFunc is called after interception starts for a session.
type OnAttachFunc func(a Attachment)

// OnDetachFunc is called after interception stops for a session.
type OnDetachFunc func(a Attachment)

// hooks holds all configured hook functions.
type hooks struct {
	onDispatch     []OnDispatchFunc
	onCancel       []OnCancelFunc
	onHandlerError []OnHandlerErrorFunc
	onUnavailable  []OnUnavailableFunc
	onComplete     []OnCompleteFunc
	onAttach       []OnAttachFunc
	onDetach       []OnDetachFunc
}

// options is shared by every component constructor; each reads the fields
// it needs.
type options struct {
	log        zerolog.Logger
	classifier Classifier
	hooks      hooks
}

// Option configures a Scanner, Dispatcher, Interceptor or Engine.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		log:        zerolog.Nop(),
		classifier: DeclaredClassifier(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithClassifier sets the direction classifier used at registration. The
// default is DeclaredClassifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithOnDispatch adds a hook called before the primary handlers run.
// Multiple hooks are called in order.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(o *options) {
		o.hooks.onDispatch = append(o.hooks.onDispatch, fn)
	}
}

// WithOnCancel adds a hook called when a message is cancelled.
// Multiple hooks are called in order.
//
// Example:
//
//	intercept.WithOnCancel(func(ctx context.Context, t intercept.MessageType, by intercept.Descriptor) {
//	    metrics.Incr("intercept.cancelled", "type:"+t.Name(), "by:"+by.Name())
//	})
func WithOnCancel(fn OnCancelFunc) Option {
	return func(o *options) {
		o.hooks.onCancel = append(o.hooks.onCancel, fn)
	}
}

// WithOnHandlerError adds a hook called when a handler fails.
// Multiple hooks are called in order.
func WithOnHandlerError(fn OnHandlerErrorFunc) Option {
	return func(o *options) {
		o.hooks.onHandlerError = append(o.hooks.onHandlerError, fn)
	}
}

// WithOnUnavailable adds a hook called when the main context cannot run a
// message's handlers. Multiple hooks are called in order.
func WithOnUnavailable(fn OnUnavailableFunc) Option {
	return func(o *options) {
		o.hooks.onUnavailable = append(o.hooks.onUnavailable, fn)
	}
}

// WithOnComplete adds a hook called after a message's handlers finish.
// Multiple hooks are called in order.
//
// Example:
//
//	intercept.WithOnComplete(func(ctx context.Context, t intercept.MessageType, cancelled bool, d time.Duration) {
//	    metrics.Timing("intercept.dispatch", d, "type:"+t.Name())
//	})
func WithOnComplete(fn OnCompleteFunc) Option {
	return func(o *options) {
		o.hooks.onComplete = append(o.hooks.onComplete, fn)
	}
}

// WithOnAttach adds a hook called after a session is attached.
func WithOnAttach(fn OnAttachFunc) Option {
	return func(o *options) {
		o.hooks.onAttach = append(o.hooks.onAttach, fn)
	}
}

// WithOnDetach adds a hook called after a session is detached.
func WithOnDetach(fn OnDetachFunc) Option {
	return func(o *options) {
		o.hooks.onDetach = append(o.hooks.onDetach, fn)
	}
}
