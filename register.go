package intercept

import "context"

// The Register* functions are package-level (not Scanner methods) because Go
// methods cannot declare their own type parameters.

// RegisterObserver adds an Observing primary handler for messages of type T.
// owner identifies the handler in logs.
//
// Example:
//
//	err := intercept.RegisterObserver(engine.Scanner(), "chat-log", &ChatLog{w: os.Stdout})
func RegisterObserver[T any](s *Scanner, owner string, h Observer[T]) error {
	t := TypeFor[T]()
	if err := s.check(t); err != nil {
		return err
	}
	s.registry.add(Descriptor{
		Owner: owner,
		Kind:  Observing,
		Type:  t,
		invoke: func(ctx context.Context, msg any) (bool, error) {
			return false, h.Observe(ctx, msg.(T))
		},
	})
	return nil
}

// RegisterObserverFunc is a convenience function for registering an
// observer function.
//
// Example:
//
//	intercept.RegisterObserverFunc(s, "chat-log", func(ctx context.Context, msg *ChatMessage) error {
//	    log.Printf("%s: %s", msg.From, msg.Text)
//	    return nil
//	})
func RegisterObserverFunc[T any](s *Scanner, owner string, fn func(ctx context.Context, msg T) error) error {
	return RegisterObserver(s, owner, ObserverFunc[T](fn))
}

// RegisterCanceler adds a Cancelable primary handler for messages of type T.
func RegisterCanceler[T any](s *Scanner, owner string, h Canceler[T]) error {
	t := TypeFor[T]()
	if err := s.check(t); err != nil {
		return err
	}
	s.registry.add(Descriptor{
		Owner: owner,
		Kind:  Cancelable,
		Type:  t,
		invoke: func(ctx context.Context, msg any) (bool, error) {
			return h.Intercept(ctx, msg.(T))
		},
	})
	return nil
}

// RegisterCancelerFunc is a convenience function for registering a canceler
// function.
//
// Example:
//
//	intercept.RegisterCancelerFunc(s, "ban-list", func(ctx context.Context, msg *LoginMessage) (bool, error) {
//	    return banned[msg.User], nil
//	})
func RegisterCancelerFunc[T any](s *Scanner, owner string, fn func(ctx context.Context, msg T) (bool, error)) error {
	return RegisterCanceler(s, owner, CancelerFunc[T](fn))
}

// RegisterConfirmer adds a cancel-confirmation handler for messages of type T.
func RegisterConfirmer[T any](s *Scanner, owner string, h Confirmer[T]) error {
	t := TypeFor[T]()
	if err := s.check(t); err != nil {
		return err
	}
	s.registry.add(Descriptor{
		Owner:   owner,
		Type:    t,
		Confirm: true,
		invoke: func(ctx context.Context, msg any) (bool, error) {
			return false, h.Confirm(ctx, msg.(T))
		},
	})
	return nil
}

// RegisterConfirmerFunc is a convenience function for registering a
// confirmer function.
func RegisterConfirmerFunc[T any](s *Scanner, owner string, fn func(ctx context.Context, msg T) error) error {
	return RegisterConfirmer(s, owner, ConfirmerFunc[T](fn))
}
