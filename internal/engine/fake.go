package engine

import (
	"context"
	"sync"
)

// FakeHandler computes a response for an operation, optionally calling back
// onto the host via cb first. Used by FakeEngine to script guest behavior
// in tests without a real WebAssembly module.
type FakeHandler func(ctx context.Context, op string, msg []byte, cb HostCallback) ([]byte, error)

// FakeEngine is a test double satisfying GuestEngine. Its behavior for
// every Call is entirely controlled by the Handler func supplied at
// construction.
type FakeEngine struct {
	mu       sync.Mutex
	id       uint64
	callback HostCallback
	handler  FakeHandler
	module   []byte
	closed   bool
}

// NewFakeEngine returns a FakeEngine with the given id, callback, and
// initial module bytes (opaque to the fake; only ReplaceModule inspects
// it).
func NewFakeEngine(id uint64, module []byte, cb HostCallback, handler FakeHandler) *FakeEngine {
	return &FakeEngine{id: id, module: module, callback: cb, handler: handler}
}

func (f *FakeEngine) ID() uint64 { return f.id }

func (f *FakeEngine) Call(ctx context.Context, op string, msg []byte) ([]byte, error) {
	f.mu.Lock()
	handler := f.handler
	cb := f.callback
	f.mu.Unlock()
	if handler == nil {
		return nil, nil
	}
	return handler(ctx, op, msg, cb)
}

func (f *FakeEngine) ReplaceModule(ctx context.Context, wasm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.module = wasm
	return nil
}

func (f *FakeEngine) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called, for test assertions.
func (f *FakeEngine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
