package intercept

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below wrap one of these so callers can test
// with errors.Is regardless of the detail carried.
var (
	// ErrConnectionResolution is wrapped by ResolutionError.
	ErrConnectionResolution = errors.New("intercept: connection resolution failed")

	// ErrHandlerSignature is wrapped by SignatureError.
	ErrHandlerSignature = errors.New("intercept: invalid handler signature")

	// ErrHandlerInvocation is wrapped by InvocationError.
	ErrHandlerInvocation = errors.New("intercept: handler failed")

	// ErrThreadAffinityUnavailable is returned when work cannot be run on
	// the main context. The message is then treated as not cancelled.
	ErrThreadAffinityUnavailable = errors.New("intercept: main context unavailable")

	// ErrClientbound is returned when a typed handler is registered for a
	// message type that does not originate from the remote peer.
	ErrClientbound = errors.New("intercept: message type is clientbound")

	// ErrUnrecognizedType is returned when the classifier does not know the
	// message type a typed handler was registered for.
	ErrUnrecognizedType = errors.New("intercept: unrecognized message type")

	// ErrSlotOccupied is returned by Slot.Attach when another stage holds
	// the slot.
	ErrSlotOccupied = errors.New("intercept: pipeline slot occupied")

	// ErrNotListening is returned by Interceptor.Send for a detached
	// session.
	ErrNotListening = errors.New("intercept: session not listening")

	// ErrSendUnsupported is returned when a session's pipeline cannot write
	// outbound messages.
	ErrSendUnsupported = errors.New("intercept: pipeline cannot send")

	// ErrAlreadyRunning is returned by Loop.Run and Loop.Start when the loop
	// is already consuming work.
	ErrAlreadyRunning = errors.New("intercept: loop already running")

	// ErrLoopNotRunning is returned by Loop.Call when nothing consumes the
	// queue.
	ErrLoopNotRunning = errors.New("intercept: loop not running")

	// ErrLoopStopped is returned for work still queued when the loop stops.
	ErrLoopStopped = errors.New("intercept: loop stopped")

	// ErrReentrantCall is returned by Loop.Call when invoked from work that
	// is already running on the loop.
	ErrReentrantCall = errors.New("intercept: re-entrant call on main context")

	// ErrCallTimeout is returned by Loop.Call when the configured call
	// timeout elapses before the work starts.
	ErrCallTimeout = errors.New("intercept: call timed out")
)

// ResolutionError reports that the pipeline for a session could not be
// located or attached to.
type ResolutionError struct {
	Session string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve connection for session %s: %v", e.Session, e.Err)
}

func (e *ResolutionError) Unwrap() []error { return []error{ErrConnectionResolution, e.Err} }

// SignatureError reports a tagged method that does not satisfy the contract
// of its handler kind.
type SignatureError struct {
	Owner  string
	Method string
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("handler %s.%s: %s", e.Owner, e.Method, e.Reason)
}

func (e *SignatureError) Unwrap() error { return ErrHandlerSignature }

// InvocationError reports a handler that returned an error or panicked.
type InvocationError struct {
	Type    MessageType
	Handler string
	Err     error

	// Panic holds the recovered value when the handler panicked.
	Panic any
}

func (e *InvocationError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler %s panicked on %s: %v", e.Handler, e.Type, e.Panic)
	}
	return fmt.Sprintf("handler %s failed on %s: %v", e.Handler, e.Type, e.Err)
}

func (e *InvocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHandlerInvocation}
	}
	return []error{ErrHandlerInvocation, e.Err}
}

// unavailableError wraps the scheduler failure that kept a message off the
// main context.
type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%v: %v", ErrThreadAffinityUnavailable, e.err)
}

func (e *unavailableError) Unwrap() []error { return []error{ErrThreadAffinityUnavailable, e.err} }
