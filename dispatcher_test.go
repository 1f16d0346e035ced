package intercept

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
)

type DispatcherSuite struct {
	suite.Suite
	reg *Registry
	sc  *Scanner
	rec *recorder
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.reg = NewRegistry()
	s.sc = NewScanner(s.reg)
	s.rec = &recorder{}
}

func (s *DispatcherSuite) dispatcher(opts ...Option) *Dispatcher {
	return NewDispatcher(s.reg, Inline(), opts...)
}

func (s *DispatcherSuite) TestNoHandlersIsNotCancelled() {
	s.Assert().False(s.dispatcher().Dispatch(context.Background(), &LoginMessage{}))
}

func (s *DispatcherSuite) TestNilMessageIsNotCancelled() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "a", vote(s.rec, "a", true)))
	s.Assert().False(s.dispatcher().Dispatch(context.Background(), nil))
	s.Assert().Empty(s.rec.list())
}

func (s *DispatcherSuite) TestStopsAtFirstCancel() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "h1", vote(s.rec, "h1", false)))
	s.Require().NoError(RegisterCancelerFunc(s.sc, "h2", vote(s.rec, "h2", true)))
	s.Require().NoError(RegisterCancelerFunc(s.sc, "h3", vote(s.rec, "h3", true)))

	s.Assert().True(s.dispatcher().Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"h1", "h2"}, s.rec.list())
}

func (s *DispatcherSuite) TestConfirmationsRunOnlyWhenCancelled() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "h1", vote(s.rec, "h1", false)))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "c1", audit(s.rec, "c1")))

	s.Assert().False(s.dispatcher().Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"h1"}, s.rec.list())
}

func (s *DispatcherSuite) TestConfirmationsRunOnceEachInOrder() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "h1", vote(s.rec, "h1", true)))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "c1", audit(s.rec, "c1")))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "c2", audit(s.rec, "c2")))

	s.Assert().True(s.dispatcher().Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"h1", "c1", "c2"}, s.rec.list())
}

func (s *DispatcherSuite) TestFailingHandlerIsSkipped() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "a", func(ctx context.Context, msg *LoginMessage) (bool, error) {
		s.rec.add("a")
		return true, errBoom
	}))
	s.Require().NoError(RegisterCancelerFunc(s.sc, "b", vote(s.rec, "b", true)))

	s.Assert().True(s.dispatcher().Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"a", "b"}, s.rec.list())
}

func (s *DispatcherSuite) TestPanickingHandlerIsSkipped() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "a", func(ctx context.Context, msg *LoginMessage) (bool, error) {
		panic("kaboom")
	}))
	s.Require().NoError(RegisterCancelerFunc(s.sc, "b", vote(s.rec, "b", true)))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "c", func(ctx context.Context, msg *LoginMessage) error {
		panic("confirm kaboom")
	}))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "d", audit(s.rec, "d")))

	var failures []error
	d := s.dispatcher(WithOnHandlerError(func(ctx context.Context, t MessageType, h Descriptor, err error) {
		failures = append(failures, err)
	}))

	s.Assert().True(d.Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"b", "d"}, s.rec.list())
	s.Require().Len(failures, 2)

	var invErr *InvocationError
	s.Require().ErrorAs(failures[0], &invErr)
	s.Assert().Equal("a", invErr.Handler)
	s.Assert().Equal("kaboom", invErr.Panic)
	s.Assert().ErrorIs(failures[1], ErrHandlerInvocation)
}

func (s *DispatcherSuite) TestFailureIsLoggedAsWarning() {
	s.Require().NoError(RegisterObserverFunc(s.sc, "broken", func(ctx context.Context, msg *ChatMessage) error {
		return errBoom
	}))

	var buf bytes.Buffer
	d := s.dispatcher(WithLogger(zerolog.New(&buf)))
	s.Assert().False(d.Dispatch(context.Background(), &ChatMessage{}))

	out := buf.String()
	s.Assert().Contains(out, `"level":"warn"`)
	s.Assert().Contains(out, `"handler":"broken"`)
	s.Assert().Contains(out, `"message_type":"*intercept.ChatMessage"`)
	s.Assert().Contains(out, "boom")
}

func (s *DispatcherSuite) TestObservingHandlerReturningTrueCancels() {
	_, err := s.sc.Scan(&loudObserver{rec: s.rec})
	s.Require().NoError(err)
	s.Require().NoError(RegisterObserverFunc(s.sc, "after", observe(s.rec, "after")))

	s.Assert().True(s.dispatcher().Dispatch(context.Background(), &ChatMessage{}))
	s.Assert().Equal([]string{"loud"}, s.rec.list())
}

func (s *DispatcherSuite) TestExactTypeMatch() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ptr", vote(s.rec, "ptr", true)))
	s.Assert().False(s.dispatcher().Dispatch(context.Background(), LoginMessage{}))
	s.Assert().Empty(s.rec.list())
}

func (s *DispatcherSuite) TestLoginScenario() {
	s.sc.Register(&authListener{rec: s.rec, cancel: true})

	s.Assert().True(s.dispatcher().Dispatch(context.Background(), &LoginMessage{User: "mallory"}))
	s.Assert().Equal([]string{"OnLogin", "OnLoginAudit"}, s.rec.list())
}

func (s *DispatcherSuite) TestChatScenario() {
	_, err := s.sc.Scan(&chatListener{rec: s.rec})
	s.Require().NoError(err)

	d := s.dispatcher()
	s.Assert().False(d.Dispatch(context.Background(), &ChatMessage{Text: "hello"}))
	s.Assert().True(d.Dispatch(context.Background(), &ChatMessage{Text: "spam"}))
	s.Assert().Equal([]string{"Log", "Filter", "Log", "Filter", "Confirm"}, s.rec.list())
}

func (s *DispatcherSuite) TestTwoObserversScenario() {
	_, err := s.sc.Scan(&chatLogListener{rec: s.rec})
	s.Require().NoError(err)

	s.Assert().False(s.dispatcher().Dispatch(context.Background(), &ChatMessage{Text: "hello"}))
	s.Assert().Equal([]string{"Log", "Log2"}, s.rec.list())
}

func (s *DispatcherSuite) TestPanickingHooksDoNotChangeOutcome() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", vote(s.rec, "ban", true)))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "audit", audit(s.rec, "audit")))

	var buf bytes.Buffer
	d := s.dispatcher(append(panickingHooks(), WithLogger(zerolog.New(&buf)))...)

	s.Assert().True(d.Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"ban", "audit"}, s.rec.list())
	s.Assert().Contains(buf.String(), `"hook":"on_complete"`)
}

func (s *DispatcherSuite) TestNilContext() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", func(ctx context.Context, msg *LoginMessage) (bool, error) {
		return ctx != nil, nil
	}))

	var ctx context.Context
	s.Assert().True(s.dispatcher().Dispatch(ctx, &LoginMessage{}))
}

func (s *DispatcherSuite) TestClearDuringDispatchKeepsSnapshot() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "clearing", func(ctx context.Context, msg *LoginMessage) (bool, error) {
		s.reg.Clear()
		return true, nil
	}))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "c", audit(s.rec, "c")))

	d := s.dispatcher()
	s.Assert().True(d.Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"c"}, s.rec.list())
	s.Assert().False(d.Dispatch(context.Background(), &LoginMessage{}))
}

func (s *DispatcherSuite) TestHooksOrder() {
	var order []string
	d := s.dispatcher(
		WithOnDispatch(func(ctx context.Context, t MessageType) {
			order = append(order, "dispatch:"+t.Name())
		}),
		WithOnCancel(func(ctx context.Context, t MessageType, by Descriptor) {
			order = append(order, "cancel:"+by.Name())
		}),
		WithOnComplete(func(ctx context.Context, t MessageType, cancelled bool, duration time.Duration) {
			if cancelled {
				order = append(order, "complete:cancelled")
			} else {
				order = append(order, "complete:forwarded")
			}
		}),
	)
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", vote(s.rec, "ban", true)))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "audit", func(ctx context.Context, msg *LoginMessage) error {
		order = append(order, "confirm")
		return nil
	}))

	s.Assert().True(d.Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{
		"dispatch:LoginMessage",
		"cancel:ban",
		"confirm",
		"complete:cancelled",
	}, order)
}

// loudObserver is declared Observing but still returns true.
type loudObserver struct {
	rec *recorder
}

func (l *loudObserver) HandlerTags() []Tag { return []Tag{Observe("OnChat")} }

func (l *loudObserver) OnChat(msg *ChatMessage) bool {
	l.rec.add("loud")
	return true
}

// panickingHooks returns one panicking hook of every dispatch kind.
func panickingHooks() []Option {
	return []Option{
		WithOnDispatch(func(context.Context, MessageType) { panic("dispatch hook") }),
		WithOnCancel(func(context.Context, MessageType, Descriptor) { panic("cancel hook") }),
		WithOnComplete(func(context.Context, MessageType, bool, time.Duration) { panic("complete hook") }),
	}
}

// chatLogListener has two observing handlers and never cancels.
type chatLogListener struct {
	rec *recorder
}

func (l *chatLogListener) HandlerTags() []Tag {
	return []Tag{Observe("Log"), Observe("Log2")}
}

func (l *chatLogListener) Log(msg *ChatMessage) { l.rec.add("Log") }

func (l *chatLogListener) Log2(msg *ChatMessage) { l.rec.add("Log2") }

// chatListener logs every chat message and cancels spam.
type chatListener struct {
	rec *recorder
}

func (l *chatListener) HandlerTags() []Tag {
	return []Tag{
		Observe("Log"),
		Cancel("Filter"),
		Confirm("Confirm"),
	}
}

func (l *chatListener) Log(msg *ChatMessage) { l.rec.add("Log") }

func (l *chatListener) Filter(ctx context.Context, msg *ChatMessage) bool {
	l.rec.add("Filter")
	return msg.Text == "spam"
}

func (l *chatListener) Confirm(msg *ChatMessage) error {
	l.rec.add("Confirm")
	return nil
}

type LoopDispatchSuite struct {
	suite.Suite
	reg  *Registry
	sc   *Scanner
	rec  *recorder
	loop *Loop
}

func TestLoopDispatchSuite(t *testing.T) {
	suite.Run(t, new(LoopDispatchSuite))
}

func (s *LoopDispatchSuite) SetupTest() {
	s.reg = NewRegistry()
	s.sc = NewScanner(s.reg)
	s.rec = &recorder{}
	s.loop = NewLoop()
}

func (s *LoopDispatchSuite) TearDownTest() {
	if s.loop.IsRunning() {
		s.Require().NoError(s.loop.Stop(context.Background()))
	}
}

func (s *LoopDispatchSuite) TestOffMainMatchesOnMain() {
	var onMain atomic.Bool
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", func(ctx context.Context, msg *LoginMessage) (bool, error) {
		onMain.Store(s.loop.OnMain(ctx))
		s.rec.add("ban")
		return msg.User == "mallory", nil
	}))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "audit", audit(s.rec, "audit")))
	s.Require().NoError(s.loop.Start())

	looped := NewDispatcher(s.reg, s.loop)
	inline := NewDispatcher(s.reg, Inline())

	for _, user := range []string{"alice", "mallory"} {
		want := inline.Dispatch(context.Background(), &LoginMessage{User: user})
		got := looped.Dispatch(context.Background(), &LoginMessage{User: user})
		s.Assert().Equal(want, got, user)
	}
	s.Assert().True(onMain.Load())
	s.Assert().Equal([]string{"ban", "ban", "ban", "audit", "ban", "audit"}, s.rec.list())
}

func (s *LoopDispatchSuite) TestPanickingHooksDoNotChangeOutcome() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", vote(s.rec, "ban", true)))
	s.Require().NoError(RegisterConfirmerFunc(s.sc, "audit", audit(s.rec, "audit")))
	s.Require().NoError(s.loop.Start())

	d := NewDispatcher(s.reg, s.loop, panickingHooks()...)
	s.Assert().True(d.Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Equal([]string{"ban", "audit"}, s.rec.list())
	s.Assert().Zero(s.loop.Stats().Panicked)
}

func (s *LoopDispatchSuite) TestHandlersSeeCallerContext() {
	type traceKey struct{}
	var (
		trace  any
		onMain bool
	)
	s.Require().NoError(RegisterObserverFunc(s.sc, "trace", func(ctx context.Context, msg *ChatMessage) error {
		trace = ctx.Value(traceKey{})
		onMain = s.loop.OnMain(ctx)
		return nil
	}))
	s.Require().NoError(s.loop.Start())

	ctx := context.WithValue(context.Background(), traceKey{}, "req-42")
	NewDispatcher(s.reg, s.loop).Dispatch(ctx, &ChatMessage{})

	s.Assert().Equal("req-42", trace)
	s.Assert().True(onMain)
}

func (s *LoopDispatchSuite) TestDispatchOnMainRunsInPlace() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", vote(s.rec, "ban", true)))
	s.Require().NoError(s.loop.Start())

	d := NewDispatcher(s.reg, s.loop)
	var cancelled bool
	err := s.loop.Call(context.Background(), func(ctx context.Context) {
		cancelled = d.Dispatch(ctx, &LoginMessage{})
	})
	s.Require().NoError(err)
	s.Assert().True(cancelled)
	s.Assert().Zero(s.loop.Stats().Rejected)
}

func (s *LoopDispatchSuite) TestUnavailableLoopForwards() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", vote(s.rec, "ban", true)))

	var hookErr error
	d := NewDispatcher(s.reg, s.loop, WithOnUnavailable(func(ctx context.Context, t MessageType, err error) {
		hookErr = err
	}))

	s.Assert().False(d.Dispatch(context.Background(), &LoginMessage{}))
	s.Assert().Empty(s.rec.list())
	s.Assert().ErrorIs(hookErr, ErrThreadAffinityUnavailable)
	s.Assert().ErrorIs(hookErr, ErrLoopNotRunning)
}

func (s *LoopDispatchSuite) TestCancelledContextForwards() {
	s.Require().NoError(RegisterCancelerFunc(s.sc, "ban", vote(s.rec, "ban", true)))
	s.Require().NoError(s.loop.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.loop.Call(context.Background(), func(ctx context.Context) {
			close(started)
			<-release
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d := NewDispatcher(s.reg, s.loop)
	s.Assert().False(d.Dispatch(ctx, &LoginMessage{}))
	close(release)

	// The abandoned unit must never run, even after the loop frees up.
	s.Require().NoError(s.loop.Call(context.Background(), func(context.Context) {}))
	s.Assert().Empty(s.rec.list())
}

func (s *LoopDispatchSuite) TestConcurrentDispatchNeverInterleaves() {
	var (
		inside  atomic.Int32
		overlap atomic.Bool
		count   atomic.Int32
	)
	s.Require().NoError(RegisterObserverFunc(s.sc, "first", func(ctx context.Context, msg *ChatMessage) error {
		if inside.Add(1) != 1 {
			overlap.Store(true)
		}
		return nil
	}))
	s.Require().NoError(RegisterObserverFunc(s.sc, "second", func(ctx context.Context, msg *ChatMessage) error {
		time.Sleep(100 * time.Microsecond)
		count.Add(1)
		inside.Add(-1)
		return nil
	}))
	s.Require().NoError(s.loop.Start())

	d := NewDispatcher(s.reg, s.loop)
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			if d.Dispatch(context.Background(), &ChatMessage{}) {
				return errors.New("chat message cancelled")
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Assert().False(overlap.Load())
	s.Assert().EqualValues(32, count.Load())
	s.Assert().EqualValues(32, s.loop.Stats().Executed)
}
