package intercept

import (
	"context"
	"sync/atomic"
)

// Session identifies one remote peer's connection. At most one pipeline is
// intercepted per session ID.
type Session interface {
	ID() string
}

// SessionID is a Session backed by a plain string.
type SessionID string

// ID implements Session.
func (s SessionID) ID() string { return string(s) }

// Stage is the interception point installed in a connection's pipeline. The
// transport offers every decoded inbound message to the stage; a message the
// stage consumes must not travel further down the pipeline.
type Stage interface {
	Inbound(ctx context.Context, msg any) (consumed bool)
}

// Pipeline is the transport-side attach point of one connection. Attach and
// Detach are direct reference operations on a position reserved when the
// connection was set up.
type Pipeline interface {
	Attach(stage Stage) error
	Detach(stage Stage) error
}

// Sender is implemented by pipelines that can write outbound messages to
// their connection. Encoding the message is the transport's job.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Resolver locates the pipeline of a session's live connection.
type Resolver interface {
	Resolve(ctx context.Context, s Session) (Pipeline, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, s Session) (Pipeline, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, s Session) (Pipeline, error) {
	return f(ctx, s)
}

// Slot is a ready-made Pipeline for transports: one reserved stage position
// in front of the rest of the inbound chain. The zero value is empty and
// ready to use.
//
// Example:
//
//	type conn struct {
//	    intercept intercept.Slot
//	    next      func(context.Context, any)
//	}
//
//	func (c *conn) readLoop(ctx context.Context) {
//	    for msg := range c.decoded {
//	        c.intercept.Deliver(ctx, msg, c.next)
//	    }
//	}
type Slot struct {
	cur atomic.Pointer[stageRef]
	out atomic.Pointer[outbound]
}

type stageRef struct {
	stage Stage
}

type outbound struct {
	write func(ctx context.Context, msg any) error
}

// Attach installs stage. Attaching the stage already installed is a no-op;
// any other stage gets ErrSlotOccupied.
func (s *Slot) Attach(stage Stage) error {
	if s.cur.CompareAndSwap(nil, &stageRef{stage: stage}) {
		return nil
	}
	if ref := s.cur.Load(); ref != nil && ref.stage == stage {
		return nil
	}
	return ErrSlotOccupied
}

// Detach removes stage if it is installed.
func (s *Slot) Detach(stage Stage) error {
	ref := s.cur.Load()
	if ref == nil || ref.stage != stage {
		return nil
	}
	s.cur.CompareAndSwap(ref, nil)
	return nil
}

// Attached reports whether a stage is installed.
func (s *Slot) Attached() bool {
	return s.cur.Load() != nil
}

// Deliver offers msg to the installed stage and passes it to next unless
// the stage consumed it. next may be nil.
func (s *Slot) Deliver(ctx context.Context, msg any, next func(ctx context.Context, msg any)) {
	if ref := s.cur.Load(); ref != nil && ref.stage.Inbound(ctx, msg) {
		return
	}
	if next != nil {
		next(ctx, msg)
	}
}

// SetOutbound installs the function Send writes through. A nil write makes
// Send fail with ErrSendUnsupported.
func (s *Slot) SetOutbound(write func(ctx context.Context, msg any) error) {
	if write == nil {
		s.out.Store(nil)
		return
	}
	s.out.Store(&outbound{write: write})
}

// Send implements Sender.
func (s *Slot) Send(ctx context.Context, msg any) error {
	o := s.out.Load()
	if o == nil {
		return ErrSendUnsupported
	}
	return o.write(ctx, msg)
}
