package intercept

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher runs the handlers registered for an inbound message and decides
// whether the message is cancelled.
//
// Dispatcher is safe for concurrent use. Registration may continue while
// messages are dispatched; each message sees the handler set as it was when
// its dispatch began.
type Dispatcher struct {
	registry *Registry
	sched    Scheduler
	log      zerolog.Logger
	hooks    hooks
}

// NewDispatcher creates a Dispatcher that looks handlers up in reg and runs
// them through sched. A nil sched is treated as Inline.
func NewDispatcher(reg *Registry, sched Scheduler, opts ...Option) *Dispatcher {
	o := newOptions(opts)
	if sched == nil {
		sched = Inline()
	}
	return &Dispatcher{
		registry: reg,
		sched:    sched,
		log:      o.log,
		hooks:    o.hooks,
	}
}

// Dispatch offers msg to the handlers registered for its exact type and
// reports whether it was cancelled.
//
// The flow:
//  1. Snapshot the primary and confirmation handlers for the type
//  2. Move onto the main context unless ctx is already there, blocking
//     until the handlers have run
//  3. Invoke primary handlers in registration order; a handler that fails
//     or panics is logged and skipped
//  4. Stop at the first handler that returns true, whatever its kind
//  5. If cancelled, invoke every confirmation handler in order
//
// If the main context cannot take the work, no handler runs and the message
// is reported as not cancelled. A nil ctx is treated as context.Background.
func (d *Dispatcher) Dispatch(ctx context.Context, msg any) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	t := TypeOf(msg)
	if t.IsZero() {
		return false
	}

	tab := d.registry.snapshot()
	primary := tab.primary[t]
	if len(primary) == 0 {
		return false
	}
	confirm := tab.confirm[t]

	if d.sched.OnMain(ctx) {
		return d.run(ctx, t, msg, primary, confirm)
	}

	var cancelled bool
	err := d.sched.Call(ctx, func(ctx context.Context) {
		cancelled = d.run(ctx, t, msg, primary, confirm)
	})
	if err != nil {
		d.unavailable(ctx, t, &unavailableError{err: err})
		return false
	}
	return cancelled
}

// run is the handler loop. It always executes on the main context.
func (d *Dispatcher) run(ctx context.Context, t MessageType, msg any, primary, confirm []Descriptor) bool {
	start := time.Now()
	d.callOnDispatch(ctx, t)

	cancelled := false
	for _, h := range primary {
		cancel, err := d.invoke(ctx, h, msg)
		if err != nil {
			d.failed(ctx, t, h, err)
			continue
		}
		if cancel {
			cancelled = true
			d.log.Debug().
				Str("message_type", t.String()).
				Str("handler", h.Name()).
				Msg("message cancelled")
			d.callOnCancel(ctx, t, h)
			break
		}
	}

	if cancelled {
		for _, h := range confirm {
			if _, err := d.invoke(ctx, h, msg); err != nil {
				d.failed(ctx, t, h, err)
			}
		}
	}

	d.callOnComplete(ctx, t, cancelled, time.Since(start))
	return cancelled
}

// invoke calls one handler, turning an error or panic into an
// *InvocationError. A handler that fails never cancels.
func (d *Dispatcher) invoke(ctx context.Context, h Descriptor, msg any) (cancel bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			cancel = false
			err = &InvocationError{Type: h.Type, Handler: h.Name(), Panic: r}
		}
	}()

	cancel, err = h.invoke(ctx, msg)
	if err != nil {
		return false, &InvocationError{Type: h.Type, Handler: h.Name(), Err: err}
	}
	return cancel, nil
}

func (d *Dispatcher) failed(ctx context.Context, t MessageType, h Descriptor, err error) {
	d.log.Warn().
		Err(err).
		Str("message_type", t.String()).
		Str("handler", h.Name()).
		Bool("confirm", h.Confirm).
		Msg("handler failed")
	for _, fn := range d.hooks.onHandlerError {
		d.guard(t, "on_handler_error", func() { fn(ctx, t, h, err) })
	}
}

func (d *Dispatcher) unavailable(ctx context.Context, t MessageType, err error) {
	d.log.Warn().
		Err(err).
		Str("message_type", t.String()).
		Msg("handlers must run on the main context; message forwarded")
	for _, fn := range d.hooks.onUnavailable {
		d.guard(t, "on_unavailable", func() { fn(ctx, t, err) })
	}
}

func (d *Dispatcher) callOnDispatch(ctx context.Context, t MessageType) {
	for _, fn := range d.hooks.onDispatch {
		d.guard(t, "on_dispatch", func() { fn(ctx, t) })
	}
}

func (d *Dispatcher) callOnCancel(ctx context.Context, t MessageType, by Descriptor) {
	for _, fn := range d.hooks.onCancel {
		d.guard(t, "on_cancel", func() { fn(ctx, t, by) })
	}
}

func (d *Dispatcher) callOnComplete(ctx context.Context, t MessageType, cancelled bool, duration time.Duration) {
	for _, fn := range d.hooks.onComplete {
		d.guard(t, "on_complete", func() { fn(ctx, t, cancelled, duration) })
	}
}

// guard runs one hook. A panicking hook is logged and never changes the
// outcome of a dispatch.
func (d *Dispatcher) guard(t MessageType, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn().
				Interface("panic", r).
				Str("message_type", t.String()).
				Str("hook", hook).
				Msg("hook panicked")
		}
	}()
	fn()
}
