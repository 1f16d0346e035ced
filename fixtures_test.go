package intercept

import (
	"context"
	"errors"
	"sync"
)

type LoginMessage struct {
	User string
}

func (*LoginMessage) Direction() Direction { return Serverbound }

type ChatMessage struct {
	From string
	Text string
}

func (*ChatMessage) Direction() Direction { return Serverbound }

type ChatBroadcast struct {
	Text string
}

func (*ChatBroadcast) Direction() Direction { return Clientbound }

// Unmarked has no declared direction.
type Unmarked struct{}

// recorder collects handler calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// authListener is the login scenario: a cancelable login check plus an
// audit confirmation.
type authListener struct {
	rec    *recorder
	cancel bool
}

func (l *authListener) HandlerTags() []Tag {
	return []Tag{
		Cancel("OnLogin"),
		Confirm("OnLoginAudit"),
	}
}

func (l *authListener) OnLogin(msg *LoginMessage) bool {
	l.rec.add("OnLogin")
	return l.cancel
}

func (l *authListener) OnLoginAudit(msg *LoginMessage) {
	l.rec.add("OnLoginAudit")
}

// mixedListener hosts valid, invalid and unrelated methods.
type mixedListener struct {
	rec *recorder
}

func (l *mixedListener) HandlerTags() []Tag {
	return []Tag{
		Cancel("BadCancel"),
		Observe("OnChat"),
		Observe("TwoArgs"),
		Observe("OnBroadcast"),
		Observe("OnUnmarked"),
		Observe("Missing"),
		Cancel("OnChatCtx"),
	}
}

// BadCancel is tagged Cancelable but returns nothing.
func (l *mixedListener) BadCancel(msg *ChatMessage) { l.rec.add("BadCancel") }

func (l *mixedListener) OnChat(msg *ChatMessage) { l.rec.add("OnChat") }

func (l *mixedListener) TwoArgs(a *ChatMessage, b *ChatMessage) { l.rec.add("TwoArgs") }

func (l *mixedListener) OnBroadcast(msg *ChatBroadcast) { l.rec.add("OnBroadcast") }

func (l *mixedListener) OnUnmarked(msg *Unmarked) { l.rec.add("OnUnmarked") }

func (l *mixedListener) OnChatCtx(ctx context.Context, msg *ChatMessage) (bool, error) {
	l.rec.add("OnChatCtx")
	return false, nil
}

// Untagged is never registered.
func (l *mixedListener) Untagged(msg *ChatMessage) { l.rec.add("Untagged") }

// observe returns a typed observer that records name.
func observe(rec *recorder, name string) func(context.Context, *ChatMessage) error {
	return func(ctx context.Context, msg *ChatMessage) error {
		rec.add(name)
		return nil
	}
}

// vote returns a typed canceler that records name and returns result.
func vote(rec *recorder, name string, result bool) func(context.Context, *LoginMessage) (bool, error) {
	return func(ctx context.Context, msg *LoginMessage) (bool, error) {
		rec.add(name)
		return result, nil
	}
}

// audit returns a typed confirmer that records name.
func audit(rec *recorder, name string) func(context.Context, *LoginMessage) error {
	return func(ctx context.Context, msg *LoginMessage) error {
		rec.add(name)
		return nil
	}
}

var errBoom = errors.New("boom")
