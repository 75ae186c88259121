// Package middleware implements the pre/invoke/post pipeline wrapping
// every invocation on both actor- and capability-side.
package middleware

import (
	"wasmhost/internal/invocation"
	"wasmhost/pkg/logging"
)

// Continuation performs the default work for an invocation (calling the
// guest or the plugin) and returns its response.
type Continuation func(invocation.Invocation) invocation.Response

// Result is the verdict an invoke-stage middleware returns: Continue lets
// the remaining middlewares in the chain run; Halt short-circuits with the
// given response.
type Result struct {
	Halted   bool
	Response invocation.Response
}

// Continue wraps resp as a non-halting result.
func Continue(resp invocation.Response) Result { return Result{Response: resp} }

// Halt wraps resp as a halting result.
func Halt(resp invocation.Response) Result { return Result{Halted: true, Response: resp} }

// Middleware exposes the six operations a pipeline stage may implement:
// {actor,capability}_{pre,invoke,post}. Implementations that do not need a
// particular hook should embed NoOp and override only what they need.
type Middleware interface {
	ActorPreInvoke(inv invocation.Invocation) (invocation.Invocation, error)
	ActorInvoke(inv invocation.Invocation, next Continuation) (Result, error)
	ActorPostInvoke(resp invocation.Response) (invocation.Response, error)

	CapabilityPreInvoke(inv invocation.Invocation) (invocation.Invocation, error)
	CapabilityInvoke(inv invocation.Invocation, next Continuation) (Result, error)
	CapabilityPostInvoke(resp invocation.Response) (invocation.Response, error)
}

// NoOp is an embeddable Middleware base whose every hook is a pass-through.
// Concrete middlewares embed NoOp and override only the hooks they care
// about.
type NoOp struct{}

func (NoOp) ActorPreInvoke(inv invocation.Invocation) (invocation.Invocation, error) { return inv, nil }
func (NoOp) ActorInvoke(inv invocation.Invocation, next Continuation) (Result, error) {
	return Continue(next(inv)), nil
}
func (NoOp) ActorPostInvoke(resp invocation.Response) (invocation.Response, error) { return resp, nil }

func (NoOp) CapabilityPreInvoke(inv invocation.Invocation) (invocation.Invocation, error) {
	return inv, nil
}
func (NoOp) CapabilityInvoke(inv invocation.Invocation, next Continuation) (Result, error) {
	return Continue(next(inv)), nil
}
func (NoOp) CapabilityPostInvoke(resp invocation.Response) (invocation.Response, error) {
	return resp, nil
}

// Pipeline is an ordered list of Middleware. Pre runs in registration
// order; post runs in registration order as well (not reversed) — this
// mirrors a straight pipeline rather than an onion.
type Pipeline struct {
	stages []Middleware
}

// NewPipeline builds a Pipeline from stages, in registration order.
func NewPipeline(stages ...Middleware) *Pipeline {
	return &Pipeline{stages: stages}
}

// InvokeActor runs the actor-side pipeline around the default work done by
// final. An empty pipeline still performs final exactly once via the
// implicit final-link invoker.
func (p *Pipeline) InvokeActor(inv invocation.Invocation, final Continuation) invocation.Response {
	return p.run(inv, final,
		func(m Middleware, i invocation.Invocation) (invocation.Invocation, error) { return m.ActorPreInvoke(i) },
		func(m Middleware, i invocation.Invocation, next Continuation) (Result, error) {
			return m.ActorInvoke(i, next)
		},
		func(m Middleware, r invocation.Response) (invocation.Response, error) { return m.ActorPostInvoke(r) },
	)
}

// InvokeCapability runs the capability-side pipeline around final.
func (p *Pipeline) InvokeCapability(inv invocation.Invocation, final Continuation) invocation.Response {
	return p.run(inv, final,
		func(m Middleware, i invocation.Invocation) (invocation.Invocation, error) {
			return m.CapabilityPreInvoke(i)
		},
		func(m Middleware, i invocation.Invocation, next Continuation) (Result, error) {
			return m.CapabilityInvoke(i, next)
		},
		func(m Middleware, r invocation.Response) (invocation.Response, error) {
			return m.CapabilityPostInvoke(r)
		},
	)
}

func (p *Pipeline) run(
	inv invocation.Invocation,
	final Continuation,
	pre func(Middleware, invocation.Invocation) (invocation.Invocation, error),
	invoke func(Middleware, invocation.Invocation, Continuation) (Result, error),
	post func(Middleware, invocation.Response) (invocation.Response, error),
) invocation.Response {
	cur := inv
	for _, m := range p.stages {
		// Errors from pre/post stages are logged; the pipeline continues
		// with the pre-error value.
		next, err := pre(m, cur)
		if err != nil {
			logging.Error("Middleware", err, "pre-invoke stage failed for %s", cur.Operation)
			continue
		}
		cur = next
	}

	resp := p.invokeChain(cur, final, invoke)

	for _, m := range p.stages {
		next, err := post(m, resp)
		if err != nil {
			logging.Error("Middleware", err, "post-invoke stage failed for invocation %s", resp.InvocationID)
			continue
		}
		resp = next
	}
	return resp
}

// invokeChain builds the continuation chain so that the first middleware in
// registration order runs first, calling through to the next middleware's
// invoke (or, for the last stage, to final) as its continuation. An empty
// stage list performs final exactly once.
func (p *Pipeline) invokeChain(
	inv invocation.Invocation,
	final Continuation,
	invoke func(Middleware, invocation.Invocation, Continuation) (Result, error),
) invocation.Response {
	var build func(idx int) Continuation
	build = func(idx int) Continuation {
		if idx >= len(p.stages) {
			return final
		}
		return func(i invocation.Invocation) invocation.Response {
			result, err := invoke(p.stages[idx], i, build(idx+1))
			if err != nil {
				logging.Error("Middleware", err, "invoke stage failed for %s", i.Operation)
				return invocation.Fail(i, err.Error())
			}
			return result.Response
		}
	}
	return build(0)(inv)
}
