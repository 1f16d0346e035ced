package intercept

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
)

// Tag marks one method of a listener as a handler.
type Tag struct {
	// Method is the exported method name.
	Method string

	// Kind is the declared handler kind. Cancelable methods must return a
	// bool as their first result.
	Kind Kind

	// Confirm registers the method as a cancel-confirmation handler instead
	// of a primary handler.
	Confirm bool
}

// Observe tags method as an Observing primary handler.
func Observe(method string) Tag { return Tag{Method: method, Kind: Observing} }

// Cancel tags method as a Cancelable primary handler.
func Cancel(method string) Tag { return Tag{Method: method, Kind: Cancelable} }

// Confirm tags method as a cancel-confirmation handler.
func Confirm(method string) Tag { return Tag{Method: method, Confirm: true} }

// Tagged is implemented by listeners registered with Scanner.Register. The
// order of the returned tags is the registration order.
//
// Example:
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
//	func (l *AuthListener) OnLoginDenied(msg *LoginMessage) { audit.Denied(msg.User) }
type Tagged interface {
	HandlerTags() []Tag
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Scanner installs handlers into a Registry, either by scanning a listener's
// tagged methods or through the typed Register* functions. Every handler
// must receive a serverbound message type.
type Scanner struct {
	registry   *Registry
	classifier Classifier
	log        zerolog.Logger
}

// NewScanner creates a Scanner that adds handlers to reg.
func NewScanner(reg *Registry, opts ...Option) *Scanner {
	o := newOptions(opts)
	return &Scanner{
		registry:   reg,
		classifier: o.classifier,
		log:        o.log,
	}
}

// Register scans listener and installs its valid handlers. It always returns
// false: registration is processed even when no handler was added, and
// problems with individual methods are logged rather than reported. Use Scan
// to learn what happened.
func (s *Scanner) Register(listener any) bool {
	_, _ = s.Scan(listener)
	return false
}

// Scan installs the handlers named by listener's HandlerTags and returns how
// many were added. A Cancelable method without a bool result is skipped with
// a *SignatureError; all such errors are joined in the returned error.
// Methods that do not take exactly one recognized serverbound message (after
// an optional leading context.Context) are skipped silently. Handlers added
// before an error are kept.
func (s *Scanner) Scan(listener any) (int, error) {
	tagged, ok := listener.(Tagged)
	if !ok {
		s.log.Debug().Str("owner", ownerName(listener)).Msg("listener declares no handler tags")
		return 0, nil
	}

	owner := ownerName(listener)
	lv := reflect.ValueOf(listener)

	var (
		added int
		errs  []error
	)
	for _, tag := range tagged.HandlerTags() {
		m := lv.MethodByName(tag.Method)
		if !m.IsValid() {
			s.log.Debug().Str("owner", owner).Str("method", tag.Method).Msg("tagged method not found")
			continue
		}

		d, err := s.describe(owner, tag, m)
		if err != nil {
			s.log.Warn().Err(err).Str("owner", owner).Str("method", tag.Method).Msg("handler skipped")
			errs = append(errs, err)
			continue
		}
		if d == nil {
			continue
		}

		s.registry.add(*d)
		added++
		s.log.Debug().
			Str("handler", d.Name()).
			Str("message_type", d.Type.String()).
			Str("kind", d.Kind.String()).
			Bool("confirm", d.Confirm).
			Msg("handler registered")
	}
	return added, errors.Join(errs...)
}

// describe validates one tagged method. It returns nil, nil for methods that
// are skipped without error.
func (s *Scanner) describe(owner string, tag Tag, m reflect.Value) (*Descriptor, error) {
	mt := m.Type()

	if tag.Kind == Cancelable && (mt.NumOut() == 0 || mt.Out(0).Kind() != reflect.Bool) {
		return nil, &SignatureError{
			Owner:  owner,
			Method: tag.Method,
			Reason: "cancelable handler must return bool",
		}
	}

	var (
		msgType reflect.Type
		withCtx bool
	)
	switch {
	case mt.IsVariadic():
	case mt.NumIn() == 1:
		msgType = mt.In(0)
	case mt.NumIn() == 2 && mt.In(0) == contextType:
		msgType, withCtx = mt.In(1), true
	}
	if msgType == nil || msgType.Kind() == reflect.Interface {
		s.log.Debug().Str("owner", owner).Str("method", tag.Method).Msg("method does not take one message")
		return nil, nil
	}

	t := MessageType{rt: msgType}
	dir, ok := s.classifier.Classify(t)
	if !ok {
		s.log.Debug().Str("owner", owner).Str("method", tag.Method).Str("message_type", t.String()).Msg("not a message type")
		return nil, nil
	}
	if dir != Serverbound {
		s.log.Debug().Str("owner", owner).Str("method", tag.Method).Str("message_type", t.String()).Msg("clientbound message type skipped")
		return nil, nil
	}

	return &Descriptor{
		Owner:   owner,
		Method:  tag.Method,
		Kind:    tag.Kind,
		Type:    t,
		Confirm: tag.Confirm,
		invoke:  methodInvoker(m, withCtx),
	}, nil
}

// check validates the message type of a typed handler.
func (s *Scanner) check(t MessageType) error {
	if t.IsZero() || t.rt.Kind() == reflect.Interface {
		return fmt.Errorf("%w: %s", ErrUnrecognizedType, t)
	}
	dir, ok := s.classifier.Classify(t)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnrecognizedType, t)
	}
	if dir != Serverbound {
		return fmt.Errorf("%w: %s", ErrClientbound, t)
	}
	return nil
}

// methodInvoker adapts a reflected method. A bool first result is the
// cancellation vote; a non-nil error last result is a failure. Other
// results are ignored.
func methodInvoker(m reflect.Value, withCtx bool) invoker {
	mt := m.Type()
	boolFirst := mt.NumOut() > 0 && mt.Out(0).Kind() == reflect.Bool
	errIdx := -1
	if n := mt.NumOut(); n > 0 && mt.Out(n-1) == errorType {
		errIdx = n - 1
	}

	return func(ctx context.Context, msg any) (bool, error) {
		args := make([]reflect.Value, 0, 2)
		if withCtx {
			if ctx == nil {
				ctx = context.Background()
			}
			args = append(args, reflect.ValueOf(ctx))
		}
		args = append(args, reflect.ValueOf(msg))

		out := m.Call(args)
		if errIdx >= 0 && !out[errIdx].IsNil() {
			err, _ := out[errIdx].Interface().(error)
			return false, err
		}
		if boolFirst {
			return out[0].Bool(), nil
		}
		return false, nil
	}
}

// ownerName identifies a listener in logs.
func ownerName(listener any) string {
	if n, ok := listener.(interface{ ListenerName() string }); ok {
		return n.ListenerName()
	}
	return fmt.Sprintf("%T", listener)
}
