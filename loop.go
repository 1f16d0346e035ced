package intercept

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs work on the main context, the single logical thread on
// which handler bodies are required to execute.
type Scheduler interface {
	// OnMain reports whether ctx belongs to work already running on the
	// main context.
	OnMain(ctx context.Context) bool

	// Call runs fn on the main context and blocks until it returns. A
	// non-nil error means fn did not run to completion.
	Call(ctx context.Context, fn func(ctx context.Context)) error
}

// Inline returns a Scheduler for hosts without a designated thread: every
// context counts as the main context and work runs on the caller.
func Inline() Scheduler {
	return inline{}
}

type inline struct{}

func (inline) OnMain(context.Context) bool { return true }

func (inline) Call(ctx context.Context, fn func(ctx context.Context)) error {
	fn(ctx)
	return nil
}

// loopKey marks contexts handed to work running on a Loop.
type loopKey struct{}

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
)

type task struct {
	ctx   context.Context // caller's context, marked as main before fn runs
	fn    func(ctx context.Context)
	state atomic.Int32
	done  chan struct{}
	err   error // written before done is closed
}

// Loop is a single-consumer work queue. The goroutine that calls Run becomes
// the main context: queued work executes there one unit at a time, in
// submission order.
//
// Usage:
//
//	loop := intercept.NewLoop()
//	go transport.Serve(engine)   // IO goroutines call engine.OnInboundMessage
//	_ = loop.Run(ctx)            // main goroutine runs every handler
type Loop struct {
	queueSize int
	timeout   time.Duration
	log       zerolog.Logger

	queue chan *task

	mu      sync.Mutex // protects stop/done and run transitions
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	// Stats
	submitted atomic.Uint64
	executed  atomic.Uint64
	abandoned atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithQueueSize sets how many units may wait before Call blocks.
func WithQueueSize(size int) LoopOption {
	return func(l *Loop) {
		if size > 0 {
			l.queueSize = size
		}
	}
}

// WithCallTimeout bounds how long Call waits for its work to start. Work
// that has started is always awaited. Zero, the default, waits until the
// caller's context is done.
func WithCallTimeout(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d >= 0 {
			l.timeout = d
		}
	}
}

// WithLoopLogger sets the loop's logger.
func WithLoopLogger(log zerolog.Logger) LoopOption {
	return func(l *Loop) {
		l.log = log
	}
}

// NewLoop creates a Loop. It accepts work only while Run is active.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		queueSize: 1024,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.queue = make(chan *task, l.queueSize)
	return l
}

// Run consumes work on the calling goroutine until ctx is done or Stop is
// called. Work still queued when Run returns fails with ErrLoopStopped.
func (l *Loop) Run(ctx context.Context) error {
	stop, done, err := l.begin()
	if err != nil {
		return err
	}
	return l.consume(ctx, stop, done)
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() error {
	stop, done, err := l.begin()
	if err != nil {
		return err
	}
	go func() {
		_ = l.consume(context.Background(), stop, done)
	}()
	return nil
}

// Stop asks the loop to exit and waits for it to finish the unit in
// progress. Called from work on the loop itself, Stop does not wait.
func (l *Loop) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if !l.running.Load() {
		l.mu.Unlock()
		return ErrLoopNotRunning
	}
	stop, done := l.stop, l.done
	select {
	case <-stop:
	default:
		close(stop)
	}
	l.mu.Unlock()

	if l.OnMain(ctx) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is consuming work.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// OnMain implements Scheduler.
func (l *Loop) OnMain(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(loopKey{}).(*Loop)
	return owner == l
}

// Call implements Scheduler. It fails with ErrLoopNotRunning when Run is not
// active, ErrReentrantCall when ctx is already on the loop, ErrCallTimeout
// when the call timeout elapses before fn starts, ErrLoopStopped when the
// loop exits first, or ctx.Err(). fn never runs after Call has returned one
// of these.
//
// fn receives ctx, with its values intact, marked as the main context. A nil
// ctx is treated as context.Background.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.OnMain(ctx) {
		l.rejected.Add(1)
		return ErrReentrantCall
	}

	l.mu.Lock()
	if !l.running.Load() {
		l.mu.Unlock()
		l.rejected.Add(1)
		return ErrLoopNotRunning
	}
	loopDone := l.done
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case l.queue <- t:
		l.submitted.Add(1)
	case <-ctx.Done():
		l.rejected.Add(1)
		return ctx.Err()
	case <-timeout:
		l.rejected.Add(1)
		return ErrCallTimeout
	case <-loopDone:
		l.rejected.Add(1)
		return ErrLoopStopped
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return l.abandon(t, ctx.Err())
	case <-timeout:
		return l.abandon(t, ErrCallTimeout)
	case <-loopDone:
		return l.abandon(t, ErrLoopStopped)
	}
}

// Stats returns loop statistics.
func (l *Loop) Stats() LoopStats {
	depth := 0
	if l.running.Load() {
		depth = len(l.queue)
	}
	return LoopStats{
		Submitted:  l.submitted.Load(),
		Executed:   l.executed.Load(),
		Abandoned:  l.abandoned.Load(),
		Panicked:   l.panicked.Load(),
		Rejected:   l.rejected.Load(),
		QueueDepth: depth,
	}
}

// LoopStats contains statistics for a Loop.
type LoopStats struct {
	// Submitted is the number of units accepted into the queue.
	Submitted uint64

	// Executed is the number of units that ran to completion.
	Executed uint64

	// Abandoned is the number of queued units dropped before they started.
	Abandoned uint64

	// Panicked is the number of units that panicked.
	Panicked uint64

	// Rejected is the number of calls refused before queuing.
	Rejected uint64

	// QueueDepth is the number of units waiting.
	QueueDepth int
}

func (l *Loop) begin() (stop, done chan struct{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return nil, nil, ErrAlreadyRunning
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.running.Store(true)
	return l.stop, l.done, nil
}

func (l *Loop) consume(ctx context.Context, stop, done chan struct{}) error {
	defer func() {
		l.mu.Lock()
		l.running.Store(false)
		l.drain()
		l.mu.Unlock()
		close(done)
	}()

	l.log.Debug().Msg("main loop started")
	for {
		// A stop request wins over queued work.
		select {
		case <-stop:
			l.log.Debug().Msg("main loop stopped")
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			l.log.Debug().Err(ctx.Err()).Msg("main loop exiting")
			return ctx.Err()
		case <-stop:
			l.log.Debug().Msg("main loop stopped")
			return nil
		case t := <-l.queue:
			l.execute(t)
		}
	}
}

// execute runs one unit unless its caller already gave up on it.
func (l *Loop) execute(t *task) {
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			l.panicked.Add(1)
			t.err = &PanicError{Value: r, Stack: debug.Stack()}
			l.log.Error().Interface("panic", r).Msg("main loop work panicked")
		}
	}()

	t.fn(context.WithValue(t.ctx, loopKey{}, l))
	l.executed.Add(1)
}

// drain fails every unit still queued. Called with mu held.
func (l *Loop) drain() {
	for {
		select {
		case t := <-l.queue:
			if t.state.CompareAndSwap(taskPending, taskAbandoned) {
				l.abandoned.Add(1)
				t.err = ErrLoopStopped
				close(t.done)
			}
		default:
			return
		}
	}
}

// abandon withdraws a queued unit. If the loop already started it, the
// caller waits for it to finish instead.
func (l *Loop) abandon(t *task, err error) error {
	if t.state.CompareAndSwap(taskPending, taskAbandoned) {
		l.abandoned.Add(1)
		return err
	}
	<-t.done
	return t.err
}

// PanicError is returned by Loop.Call when the submitted work panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic on main loop: %v", e.Value)
}
