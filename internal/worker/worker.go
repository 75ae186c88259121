// Package worker implements the three long-lived goroutine kinds the host
// spawns: one per actor, one per native provider instance, and one per
// active (actor, provider, binding) pair. Each worker
// blocks on a select loop between an internal job queue and a terminator
// channel, so it is always ready to exit.
package worker

import (
	"context"

	"wasmhost/internal/invocation"
	"wasmhost/internal/middleware"
	"wasmhost/pkg/logging"
)

// job is one invocation delivered to a worker's run loop, paired with the
// channel its result must be sent back on.
type job struct {
	ctx     context.Context
	inv     invocation.Invocation
	replyCh chan invocation.Response
}

// Base is the shared select-loop skeleton every worker kind embeds. It
// owns the job queue a Bus handler feeds and the terminator channel
// Terminate closes.
type Base struct {
	jobs chan job
	term chan struct{}
	done chan struct{}
}

// NewBase returns a Base ready to run.
func NewBase() *Base {
	return &Base{
		jobs: make(chan job, 64),
		term: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Handle is the function a Bus subscription should be given: it enqueues
// the invocation on the worker's job channel and blocks for its reply,
// unless the worker has already begun terminating.
func (b *Base) Handle(ctx context.Context, inv invocation.Invocation) invocation.Response {
	replyCh := make(chan invocation.Response, 1)
	select {
	case b.jobs <- job{ctx: ctx, inv: inv, replyCh: replyCh}:
	case <-b.term:
		return invocation.Fail(inv, "worker terminating")
	}

	select {
	case resp := <-replyCh:
		return resp
	case <-b.term:
		return invocation.Fail(inv, "worker terminating")
	}
}

// TermChan exposes the terminator channel for router.Route wiring.
func (b *Base) TermChan() chan struct{} { return b.term }

// Terminate signals the run loop to stop accepting new jobs and exit. Safe
// to call more than once; subsequent calls are no-ops.
func (b *Base) Terminate() {
	select {
	case <-b.term:
		// already terminated
	default:
		close(b.term)
	}
}

// Wait blocks until the worker's run loop has exited.
func (b *Base) Wait() {
	<-b.done
}

// Run drives the select loop: for every job, it calls process and returns
// the result on the job's reply channel, until term fires. markDone is
// called exactly once, after the loop exits and before Wait unblocks.
func (b *Base) Run(process func(context.Context, invocation.Invocation) invocation.Response, onExit func()) {
	defer close(b.done)
	defer func() {
		if onExit != nil {
			onExit()
		}
	}()

	for {
		select {
		case j := <-b.jobs:
			j.replyCh <- process(j.ctx, j.inv)
		case <-b.term:
			return
		}
	}
}

// FinalInvoker adapts a plain invoke function into a middleware.Continuation.
func FinalInvoker(fn func(invocation.Invocation) invocation.Response) middleware.Continuation {
	return fn
}

// RecoverTo returns a closure meant to be deferred directly (recover only
// takes effect when called by the function defer invokes, not by something
// that function calls in turn). On a panic it logs the cause under
// subsystem and writes a failure Response into *out. Actor workers wrap
// their guest invocation with `defer worker.RecoverTo(...)()`; provider and
// bound-pair workers rely on plugin.Manager's own panic recovery instead.
func RecoverTo(subsystem string, inv invocation.Invocation, out *invocation.Response) func() {
	return func() {
		if r := recover(); r != nil {
			logging.Error(subsystem, nil, "recovered panic processing invocation %s: %v", inv.ID, r)
			*out = invocation.Fail(inv, "internal error")
		}
	}
}
