package worker

import (
	"context"

	"wasmhost/internal/invocation"
	"wasmhost/internal/middleware"
	"wasmhost/internal/plugin"
)

// BoundPairWorker is spawned for each active (actor, provider, binding)
// triple, subscribing to the private per-actor provider subject and
// routing every invocation through the capability-side middleware chain.
type BoundPairWorker struct {
	base     *Base
	capID    string
	binding  string
	actor    string
	mgr      *plugin.Manager
	pipeline *middleware.Pipeline

	// onRemoveActor runs once, after the provider has handled a RemoveActor
	// call on this pair's subject, so the host can drop its binding record
	// and stop routing to this worker. The worker terminates itself right
	// after.
	onRemoveActor func()
}

// NewBoundPairWorker constructs a BoundPairWorker for (capID, binding,
// actorSubject). onRemoveActor may be nil.
func NewBoundPairWorker(capID, binding, actorSubject string, mgr *plugin.Manager, pipeline *middleware.Pipeline, onRemoveActor func()) *BoundPairWorker {
	return &BoundPairWorker{
		base:          NewBase(),
		capID:         capID,
		binding:       binding,
		actor:         actorSubject,
		mgr:           mgr,
		pipeline:      pipeline,
		onRemoveActor: onRemoveActor,
	}
}

func (w *BoundPairWorker) Handle(ctx context.Context, inv invocation.Invocation) invocation.Response {
	return w.base.Handle(ctx, inv)
}

func (w *BoundPairWorker) TermChan() chan struct{} { return w.base.TermChan() }

func (w *BoundPairWorker) Start(onExit func()) {
	go w.base.Run(w.process, onExit)
}

func (w *BoundPairWorker) Terminate() { w.base.Terminate() }
func (w *BoundPairWorker) Wait()      { w.base.Wait() }

func (w *BoundPairWorker) process(ctx context.Context, inv invocation.Invocation) (resp invocation.Response) {
	defer RecoverTo("BoundPairWorker", inv, &resp)()

	resp = w.pipeline.InvokeCapability(inv, func(i invocation.Invocation) invocation.Response {
		out, err := w.mgr.Call(w.binding, w.capID, w.actor, i.Operation, i.Msg)
		if err != nil {
			return invocation.Fail(i, err.Error())
		}
		return invocation.Ok(i, out)
	})

	if inv.Operation == plugin.OpRemoveActor {
		if w.onRemoveActor != nil {
			w.onRemoveActor()
		}
		w.base.Terminate()
	}
	return resp
}
