// Package intercept routes decoded inbound protocol messages to handlers
// registered per message type, and lets those handlers cancel a message
// before it travels further down a connection's pipeline.
//
// The package sits between a transport, which frames and decodes bytes into
// typed messages, and the rest of an application. It owns three things: the
// interception point on each connection, the registry of handlers, and the
// dispatch rules that decide in what order and on which goroutine handlers
// run and whether a message is consumed.
//
// # Quick Start
//
// Declare message types with their direction:
//
//	type LoginMessage struct{ User string }
//
//	func (*LoginMessage) Direction() intercept.Direction { return intercept.Serverbound }
//
// Write a listener and tag its handler methods:
//
//	type AuthListener struct{ banned map[string]bool }
//
//	func (l *AuthListener) HandlerTags() []intercept.Tag {
//	    return []intercept.Tag{
//	        intercept.Cancel("OnLogin"),
//	        intercept.Confirm("OnLoginDenied"),
//	    }
//	}
//
//	func (l *AuthListener) OnLogin(msg *LoginMessage) bool { return l.banned[msg.User] }
//
//	func (l *AuthListener) OnLoginDenied(msg *LoginMessage) { log.Printf("denied %s", msg.User) }
//
// Build an engine, register, and attach to sessions:
//
//	loop := intercept.NewLoop()
//	engine := intercept.New(loop, resolver)
//
//	engine.Register(&AuthListener{banned: banned})
//
//	_ = engine.StartListening(ctx, intercept.SessionID("peer-1"))
//
//	_ = loop.Run(ctx) // handlers execute here
//
// # Handlers
//
// There are two sets of handlers per message type:
//
//   - Primary handlers run for every matching message, in registration
//     order. Observing handlers watch; Cancelable handlers return true to
//     cancel.
//   - Confirmation handlers run only after a primary handler cancelled the
//     message, also in registration order.
//
// The first primary handler to return true stops the scan. Only the runtime
// result counts, so an Observing handler returning true cancels as well.
// A handler that returns an error or panics is logged and skipped; it never
// prevents the others from running and never cancels.
//
// Handlers are keyed by exact type: a handler for *LoginMessage never sees
// a LoginMessage value.
//
// # Registration
//
// Scanner.Register inspects the methods named by a listener's HandlerTags.
// A tagged method takes one message (optionally preceded by a
// context.Context) and may return nothing, a bool, an error, or
// (bool, error). Cancelable methods must return a bool first; those that do
// not are skipped with a SignatureError while the rest of the listener is
// still registered.
//
// The typed functions check handler shapes at compile time instead:
//
//	intercept.RegisterCancelerFunc(engine.Scanner(), "ban-list",
//	    func(ctx context.Context, msg *LoginMessage) (bool, error) {
//	        return banned[msg.User], nil
//	    })
//
// Either way only serverbound message types are accepted. A Classifier
// decides direction: DeclaredClassifier (the default) asks the type through
// Directed, PrefixClassifier follows a naming convention, ManifestClassifier
// reads a protocol manifest.
//
// # Main Context
//
// Handler bodies run on one designated goroutine. A Loop provides it: the
// goroutine calling Loop.Run executes queued work one unit at a time. When a
// message arrives on any other goroutine, its whole handler loop is queued as
// one unit and the IO goroutine blocks until it finishes, so handlers for one
// message never interleave with another's. When dispatch is already running
// on the loop, handlers run in place.
//
// If the loop is not running, is stopping, or the optional call timeout
// elapses, no handler runs and the message is forwarded as not cancelled.
//
// # Interception
//
// A Resolver finds a session's Pipeline; Interceptor.StartListening attaches
// a Stage to it. Transports can embed a Slot, a Pipeline with one reserved
// stage position:
//
//	c.slot.Deliver(ctx, msg, c.next) // next is skipped if msg was consumed
//
// StartListening and CancelListening are idempotent. A resolution failure
// leaves the session detached and affects nothing else.
//
// Pipelines that implement Sender also accept outbound messages:
// Engine.Send writes to one session, Engine.Broadcast to every attached one.
//
// # Hooks
//
// Hooks provide observability without coupling to a metrics system:
//
//	engine := intercept.New(loop, resolver,
//	    intercept.WithOnCancel(func(ctx context.Context, t intercept.MessageType, by intercept.Descriptor) {
//	        metrics.Incr("intercept.cancelled", "type:"+t.Name())
//	    }),
//	    intercept.WithOnHandlerError(func(ctx context.Context, t intercept.MessageType, h intercept.Descriptor, err error) {
//	        metrics.Incr("intercept.handler_error", "handler:"+h.Name())
//	    }),
//	)
//
// A hook that panics is recovered and logged; it never changes whether a
// message is cancelled.
//
// # Thread Safety
//
// Every exported type is safe for concurrent use. Registration and Clear may
// race with dispatch; each message sees the handler set as of the moment its
// dispatch began.
package intercept
