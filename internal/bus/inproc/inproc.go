// Package inproc implements the in-process Bus transport: channel pairs
// keyed by subject, with blocking request/reply semantics and a
// configurable RPC timeout.
package inproc

import (
	"context"
	"sync"
	"time"

	"wasmhost/internal/invocation"
	"wasmhost/pkg/herrors"
	"wasmhost/pkg/logging"
)

// DefaultRPCTimeout is the default request deadline used when a Bus is
// constructed without an explicit timeout.
const DefaultRPCTimeout = 500 * time.Millisecond

type subscription struct {
	handle func(context.Context, invocation.Invocation) invocation.Response
	// queue serializes deliveries per subject; across subjects there is no ordering guarantee.
	queue chan func()
	done  chan struct{}
}

// Bus is an in-process implementation of bus.Bus. Each subscriber runs its
// handler on a dedicated goroutine draining a per-subject queue, so a slow
// handler on one subject never blocks delivery to another.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	timeout time.Duration
}

// New returns an in-process Bus with the given RPC timeout. A zero timeout
// uses DefaultRPCTimeout.
func New(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &Bus{subs: make(map[string]*subscription), timeout: timeout}
}

// Subscribe registers handle on subject. Fails if subject already has a
// subscriber.
func (b *Bus) Subscribe(subject string, handle func(context.Context, invocation.Invocation) invocation.Response) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[subject]; exists {
		return herrors.Newf(herrors.Misc, "subject %s already has a subscriber", subject)
	}

	sub := &subscription{
		handle: handle,
		queue:  make(chan func(), 64),
		done:   make(chan struct{}),
	}
	b.subs[subject] = sub

	go func() {
		for {
			select {
			case task, ok := <-sub.queue:
				if !ok {
					return
				}
				task()
			case <-sub.done:
				return
			}
		}
	}()

	return nil
}

// Invoke sends inv to subject and blocks for its single reply, or until the
// bus's RPC timeout elapses.
func (b *Bus) Invoke(ctx context.Context, subject string, inv invocation.Invocation) (invocation.Response, error) {
	b.mu.RLock()
	sub, ok := b.subs[subject]
	b.mu.RUnlock()
	if !ok {
		return invocation.Response{}, herrors.Newf(herrors.Misc, "no subscriber for subject %s", subject)
	}

	replyCh := make(chan invocation.Response, 1)
	task := func() {
		replyCh <- sub.handle(ctx, inv)
	}

	select {
	case sub.queue <- task:
	case <-sub.done:
		return invocation.Response{}, herrors.Newf(herrors.Misc, "subject %s unsubscribed", subject)
	default:
		// queue full: still enqueue, blocking, so FIFO ordering holds.
		select {
		case sub.queue <- task:
		case <-sub.done:
			return invocation.Response{}, herrors.Newf(herrors.Misc, "subject %s unsubscribed", subject)
		case <-ctx.Done():
			return invocation.Response{}, ctx.Err()
		}
	}

	timeout := time.NewTimer(b.timeout)
	defer timeout.Stop()

	select {
	case resp := <-replyCh:
		return resp, nil
	case <-timeout.C:
		logging.Warn("Bus", "invoke on %s timed out after %s", subject, b.timeout)
		return invocation.Fail(inv, invocation.TimeoutTag), nil
	case <-ctx.Done():
		return invocation.Response{}, ctx.Err()
	}
}

// Unsubscribe removes subject's handler. Idempotent.
func (b *Bus) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subject]
	if !ok {
		return nil
	}
	close(sub.done)
	delete(b.subs, subject)
	return nil
}

// PublishEvent is a no-op for the in-process transport.
func (b *Bus) PublishEvent(subject string, payload []byte) error {
	return nil
}
