package intercept

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var errNilPipeline = errors.New("resolver returned no pipeline")

// Attachment describes one intercepted session.
type Attachment struct {
	// ID is unique per attachment; re-attaching a session yields a new ID.
	ID string

	// Session is the session ID.
	Session string

	// AttachedAt is when interception started.
	AttachedAt time.Time
}

// Interceptor attaches a stage to the pipeline of each listened-to session
// and hands every inbound message on those pipelines to a Dispatcher. A
// cancelled message is consumed; anything else continues downstream.
//
// Each session is either detached or attached. StartListening on an attached
// session and CancelListening on a detached one are no-ops.
type Interceptor struct {
	dispatcher *Dispatcher
	resolver   Resolver
	log        zerolog.Logger
	hooks      hooks

	mu       sync.RWMutex
	attached map[string]*attachment
}

type attachment struct {
	info     Attachment
	pipeline Pipeline
	stage    *stage
}

// stage is the Stage installed for one attachment.
type stage struct {
	in      *Interceptor
	session string
}

func (s *stage) Inbound(ctx context.Context, msg any) bool {
	return s.in.deliver(ctx, s, msg)
}

// NewInterceptor creates an Interceptor that resolves pipelines with
// resolver and dispatches through d.
func NewInterceptor(d *Dispatcher, resolver Resolver, opts ...Option) *Interceptor {
	o := newOptions(opts)
	return &Interceptor{
		dispatcher: d,
		resolver:   resolver,
		log:        o.log,
		hooks:      o.hooks,
		attached:   make(map[string]*attachment),
	}
}

// StartListening attaches to the pipeline of s. If the pipeline cannot be
// resolved or attached to, the failure is logged and returned as a
// *ResolutionError and s stays detached. Nothing else is affected.
func (in *Interceptor) StartListening(ctx context.Context, s Session) error {
	id := s.ID()
	if in.isListening(id) {
		return nil
	}

	p, err := in.resolver.Resolve(ctx, s)
	if err == nil && p == nil {
		err = errNilPipeline
	}
	if err != nil {
		return in.resolveFailed(id, err)
	}

	a := &attachment{
		info: Attachment{
			ID:         uuid.NewString(),
			Session:    id,
			AttachedAt: time.Now(),
		},
		pipeline: p,
		stage:    &stage{in: in, session: id},
	}

	// Attach runs unlocked: a transport may feed the stage before it
	// returns. Until the attachment is published the stage forwards.
	if err := p.Attach(a.stage); err != nil {
		if in.isListening(id) {
			return nil
		}
		return in.resolveFailed(id, err)
	}

	in.mu.Lock()
	if _, ok := in.attached[id]; ok {
		in.mu.Unlock()
		if err := p.Detach(a.stage); err != nil {
			in.log.Warn().Err(err).Str("session", id).Msg("detach of duplicate stage failed")
		}
		return nil
	}
	in.attached[id] = a
	in.mu.Unlock()

	in.log.Info().Str("session", id).Str("attachment", a.info.ID).Msg("listening")
	for _, fn := range in.hooks.onAttach {
		in.guard(a.info, "on_attach", func() { fn(a.info) })
	}
	return nil
}

// CancelListening detaches from the pipeline of s. A failure to detach is
// logged; the session is considered detached either way.
func (in *Interceptor) CancelListening(s Session) {
	in.cancel(s.ID())
}

// IsListening reports whether s is attached.
func (in *Interceptor) IsListening(s Session) bool {
	return in.isListening(s.ID())
}

// DetachAll detaches every attached session and returns how many were
// detached.
func (in *Interceptor) DetachAll() int {
	in.mu.RLock()
	ids := make([]string, 0, len(in.attached))
	for id := range in.attached {
		ids = append(ids, id)
	}
	in.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if in.cancel(id) {
			n++
		}
	}
	return n
}

// Attachments lists the attached sessions ordered by session ID.
func (in *Interceptor) Attachments() []Attachment {
	in.mu.RLock()
	out := make([]Attachment, 0, len(in.attached))
	for _, a := range in.attached {
		out = append(out, a.info)
	}
	in.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// OnInboundMessage dispatches msg received on s and reports whether it was
// consumed. Messages on detached sessions are never consumed.
func (in *Interceptor) OnInboundMessage(ctx context.Context, s Session, msg any) bool {
	if !in.isListening(s.ID()) {
		return false
	}
	return in.dispatcher.Dispatch(ctx, msg)
}

// deliver dispatches a message arriving through st. A stage left behind by
// an earlier attachment forwards everything.
func (in *Interceptor) deliver(ctx context.Context, st *stage, msg any) bool {
	in.mu.RLock()
	a, ok := in.attached[st.session]
	in.mu.RUnlock()
	if !ok || a.stage != st {
		return false
	}
	return in.dispatcher.Dispatch(ctx, msg)
}

// Send writes msg to the connection of s. The session must be attached and
// its pipeline must implement Sender.
func (in *Interceptor) Send(ctx context.Context, s Session, msg any) error {
	id := s.ID()
	in.mu.RLock()
	a, ok := in.attached[id]
	in.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to session %s: %w", id, ErrNotListening)
	}
	return in.send(ctx, a, msg)
}

// Broadcast writes msg to every attached session concurrently and returns
// how many sends succeeded. Every failure is reported in the joined error;
// one failing session does not stop the others.
func (in *Interceptor) Broadcast(ctx context.Context, msg any) (int, error) {
	in.mu.RLock()
	targets := make([]*attachment, 0, len(in.attached))
	for _, a := range in.attached {
		targets = append(targets, a)
	}
	in.mu.RUnlock()

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, a := range targets {
		i, a := i, a
		g.Go(func() error {
			errs[i] = in.send(ctx, a, msg)
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for _, err := range errs {
		if err == nil {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (in *Interceptor) send(ctx context.Context, a *attachment, msg any) error {
	sender, ok := a.pipeline.(Sender)
	if !ok {
		return fmt.Errorf("send to session %s: %w", a.info.Session, ErrSendUnsupported)
	}
	if err := sender.Send(ctx, msg); err != nil {
		in.log.Warn().Err(err).Str("session", a.info.Session).Str("message_type", TypeOf(msg).String()).Msg("send failed")
		return fmt.Errorf("send to session %s: %w", a.info.Session, err)
	}
	return nil
}

func (in *Interceptor) isListening(id string) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	_, ok := in.attached[id]
	return ok
}

func (in *Interceptor) cancel(id string) bool {
	in.mu.Lock()
	a, ok := in.attached[id]
	if ok {
		delete(in.attached, id)
	}
	in.mu.Unlock()
	if !ok {
		return false
	}

	if err := a.pipeline.Detach(a.stage); err != nil {
		in.log.Warn().Err(err).Str("session", id).Str("attachment", a.info.ID).Msg("detach failed")
	}
	in.log.Info().Str("session", id).Str("attachment", a.info.ID).Msg("stopped listening")
	for _, fn := range in.hooks.onDetach {
		in.guard(a.info, "on_detach", func() { fn(a.info) })
	}
	return true
}

func (in *Interceptor) resolveFailed(id string, err error) error {
	rerr := &ResolutionError{Session: id, Err: err}
	in.log.Warn().Err(err).Str("session", id).Msg("could not get connection for session")
	return rerr
}

// guard runs one attach or detach hook, logging a panic instead of
// propagating it.
func (in *Interceptor) guard(a Attachment, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			in.log.Warn().
				Interface("panic", r).
				Str("session", a.Session).
				Str("hook", hook).
				Msg("hook panicked")
		}
	}()
	fn()
}
