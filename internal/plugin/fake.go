package plugin

import "context"

// FakeProvider is a scriptable CapabilityProvider test double: a minimal
// provider whose HandleCall is driven entirely by a caller-supplied
// function.
type FakeProvider struct {
	CapID   string
	Pname   string
	Handler func(originActor, operation string, msg []byte) ([]byte, error)

	dispatcher Dispatcher
}

func (f *FakeProvider) CapabilityID() string { return f.CapID }
func (f *FakeProvider) Name() string         { return f.Pname }

func (f *FakeProvider) ConfigureDispatch(d Dispatcher) error {
	f.dispatcher = d
	return nil
}

func (f *FakeProvider) HandleCall(originActor, operation string, msg []byte) ([]byte, error) {
	if f.Handler == nil {
		return nil, nil
	}
	return f.Handler(originActor, operation, msg)
}

// Dispatcher exposes the dispatcher ConfigureDispatch received, for test
// assertions and for providers that need to call back into actors.
func (f *FakeProvider) Dispatcher() Dispatcher { return f.dispatcher }

// FakeDispatcher is a scriptable Dispatcher test double.
type FakeDispatcher struct {
	Handler func(ctx context.Context, actorSubject, operation string, msg []byte) ([]byte, error)
}

func (f *FakeDispatcher) Dispatch(ctx context.Context, actorSubject, operation string, msg []byte) ([]byte, error) {
	if f.Handler == nil {
		return nil, nil
	}
	return f.Handler(ctx, actorSubject, operation, msg)
}
