package worker

import (
	"context"

	"wasmhost/internal/invocation"
	"wasmhost/internal/plugin"
	"wasmhost/pkg/codec"
)

// ProviderWorker owns a native provider instance and subscribes to its
// root provider subject. It only accepts the handful of
// binding-management operations at the root subject; any other operation
// there is rejected.
type ProviderWorker struct {
	base    *Base
	capID   string
	binding string
	mgr     *plugin.Manager

	onBindActor   func(actorSubject string, cfg map[string]string) error
	onRemoveActor func(actorSubject string) error
}

// ProviderCallbacks lets the host façade wire BindActor/RemoveActor side
// effects (spawning/terminating a bound-pair worker) without the worker
// package depending on the host package.
type ProviderCallbacks struct {
	OnBindActor   func(actorSubject string, cfg map[string]string) error
	OnRemoveActor func(actorSubject string) error
}

// NewProviderWorker constructs a ProviderWorker for (capID, binding),
// dispatching loaded-plugin calls through mgr.
func NewProviderWorker(capID, binding string, mgr *plugin.Manager, cb ProviderCallbacks) *ProviderWorker {
	return &ProviderWorker{
		base:          NewBase(),
		capID:         capID,
		binding:       binding,
		mgr:           mgr,
		onBindActor:   cb.OnBindActor,
		onRemoveActor: cb.OnRemoveActor,
	}
}

func (w *ProviderWorker) Handle(ctx context.Context, inv invocation.Invocation) invocation.Response {
	return w.base.Handle(ctx, inv)
}

func (w *ProviderWorker) TermChan() chan struct{} { return w.base.TermChan() }

func (w *ProviderWorker) Start(onExit func()) {
	go w.base.Run(w.process, onExit)
}

func (w *ProviderWorker) Terminate() { w.base.Terminate() }
func (w *ProviderWorker) Wait()      { w.base.Wait() }

// rootAllowedOps are the only operations valid at a provider's root
// subject; anything else must go through its bound-pair subject instead.
var rootAllowedOps = map[string]bool{
	plugin.OpBindActor:               true,
	plugin.OpRemoveActor:             true,
	plugin.OpGetCapabilityDescriptor: true,
	plugin.OpConfigure:               true,
}

func (w *ProviderWorker) process(ctx context.Context, inv invocation.Invocation) (resp invocation.Response) {
	defer RecoverTo("ProviderWorker", inv, &resp)()

	if !rootAllowedOps[inv.Operation] {
		return invocation.Fail(inv, "binding-required operation on unbound provider")
	}

	originActor := ""
	if inv.Origin.Kind == invocation.KindActor {
		originActor = inv.Origin.Subject
	}

	switch inv.Operation {
	case plugin.OpBindActor:
		if w.onBindActor != nil {
			var cfg codec.ConfigMap
			if len(inv.Msg) > 0 {
				if err := codec.Decode(inv.Msg, &cfg); err != nil {
					return invocation.Fail(inv, err.Error())
				}
			}
			if err := w.onBindActor(originActor, cfg.Values); err != nil {
				return invocation.Fail(inv, err.Error())
			}
		}
	case plugin.OpRemoveActor:
		if w.onRemoveActor != nil {
			if err := w.onRemoveActor(originActor); err != nil {
				return invocation.Fail(inv, err.Error())
			}
		}
	}

	out, err := w.mgr.Call(w.binding, w.capID, originActorOrSystem(originActor), inv.Operation, inv.Msg)
	if err != nil {
		return invocation.Fail(inv, err.Error())
	}
	return invocation.Ok(inv, out)
}

func originActorOrSystem(originActor string) string {
	if originActor == "" {
		return plugin.SystemActor
	}
	return originActor
}
