package intercept

import "context"

// Engine wires a Registry, Scanner, Dispatcher and Interceptor together. An
// application constructs one Engine in its composition root and passes it to
// whatever registers listeners or feeds messages.
//
// Usage:
//  1. Create a Loop (or another Scheduler) for the main context
//  2. Create an Engine with New
//  3. Register listeners with Register or the typed Register* functions
//  4. Call StartListening as sessions connect
//  5. Run the loop
type Engine struct {
	registry    *Registry
	scanner     *Scanner
	dispatcher  *Dispatcher
	interceptor *Interceptor
}

// New creates an Engine. Handlers run on sched; pipelines are located with
// resolver. The options apply to every component.
//
// Example:
//
//	loop := intercept.NewLoop(intercept.WithCallTimeout(time.Second))
//	engine := intercept.New(loop, resolver,
//	    intercept.WithLogger(logger),
//	    intercept.WithClassifier(intercept.PrefixClassifier("Clientbound")),
//	)
func New(sched Scheduler, resolver Resolver, opts ...Option) *Engine {
	reg := NewRegistry()
	d := NewDispatcher(reg, sched, opts...)
	return &Engine{
		registry:    reg,
		scanner:     NewScanner(reg, opts...),
		dispatcher:  d,
		interceptor: NewInterceptor(d, resolver, opts...),
	}
}

// Registry returns the handler registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Scanner returns the scanner, for use with the typed Register* functions.
func (e *Engine) Scanner() *Scanner { return e.scanner }

// Dispatcher returns the dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Interceptor returns the interceptor.
func (e *Engine) Interceptor() *Interceptor { return e.interceptor }

// Register scans listener for tagged handlers. See Scanner.Register.
func (e *Engine) Register(listener any) bool { return e.scanner.Register(listener) }

// Clear removes every registered handler.
func (e *Engine) Clear() { e.registry.Clear() }

// StartListening attaches to the pipeline of s. See Interceptor.StartListening.
func (e *Engine) StartListening(ctx context.Context, s Session) error {
	return e.interceptor.StartListening(ctx, s)
}

// CancelListening detaches from the pipeline of s.
func (e *Engine) CancelListening(s Session) { e.interceptor.CancelListening(s) }

// IsListening reports whether s is attached.
func (e *Engine) IsListening(s Session) bool { return e.interceptor.IsListening(s) }

// DetachAll detaches every session and returns how many were detached.
func (e *Engine) DetachAll() int { return e.interceptor.DetachAll() }

// OnInboundMessage dispatches msg received on s and reports whether it was
// consumed.
func (e *Engine) OnInboundMessage(ctx context.Context, s Session, msg any) bool {
	return e.interceptor.OnInboundMessage(ctx, s, msg)
}

// Send writes msg to the connection of s. See Interceptor.Send.
func (e *Engine) Send(ctx context.Context, s Session, msg any) error {
	return e.interceptor.Send(ctx, s, msg)
}

// Broadcast writes msg to every attached session. See Interceptor.Broadcast.
func (e *Engine) Broadcast(ctx context.Context, msg any) (int, error) {
	return e.interceptor.Broadcast(ctx, msg)
}
