package worker

import (
	"context"
	"time"

	"wasmhost/internal/bus"
	"wasmhost/internal/engine"
	"wasmhost/internal/invocation"
	"wasmhost/internal/middleware"
	"wasmhost/pkg/logging"
)

// Binding names a single active (capability, binding-name) pair an actor is
// bound to, used by ActorWorker to cascade-deconfigure on termination.
type Binding struct {
	CapID   string
	Binding string
}

// BindingLookup returns every Binding currently active for actorSubject, at
// the moment of the call.
type BindingLookup func(actorSubject string) []Binding

// ActorWorker owns a single actor's guest engine instance and runs its
// invocation loop.
type ActorWorker struct {
	base     *Base
	subject  string
	eng      engine.GuestEngine
	pipeline *middleware.Pipeline
	bus      bus.Bus
	bindings BindingLookup
}

// NewActorWorker constructs an ActorWorker. The caller is responsible for
// registering the actor's claims and routing table entry before starting
// it.
func NewActorWorker(subject string, eng engine.GuestEngine, pipeline *middleware.Pipeline, b bus.Bus, bindings BindingLookup) *ActorWorker {
	return &ActorWorker{
		base:     NewBase(),
		subject:  subject,
		eng:      eng,
		pipeline: pipeline,
		bus:      b,
		bindings: bindings,
	}
}

// Handle is the function to register with Bus.Subscribe for this worker's
// actor subject.
func (w *ActorWorker) Handle(ctx context.Context, inv invocation.Invocation) invocation.Response {
	return w.base.Handle(ctx, inv)
}

// TermChan exposes the terminator channel, for router.Route wiring.
func (w *ActorWorker) TermChan() chan struct{} { return w.base.TermChan() }

// Start runs the worker's select loop in a new goroutine. onExit is called
// after cascade deconfigure and guest teardown, just before the loop's
// internal done channel closes.
func (w *ActorWorker) Start(onExit func()) {
	go w.base.Run(w.process, func() {
		w.cascadeDeconfigure()
		_ = w.eng.Close(context.Background())
		if onExit != nil {
			onExit()
		}
	})
}

// Terminate signals the worker to stop. Idempotent.
func (w *ActorWorker) Terminate() { w.base.Terminate() }

// Wait blocks until the worker has fully exited, including cascade
// deconfigure.
func (w *ActorWorker) Wait() { w.base.Wait() }

// OpPerformLiveUpdate is the operation that triggers a hot swap.
const OpPerformLiveUpdate = "PerformLiveUpdate"

func (w *ActorWorker) process(ctx context.Context, inv invocation.Invocation) (resp invocation.Response) {
	defer RecoverTo("ActorWorker", inv, &resp)()

	if inv.Operation == OpPerformLiveUpdate {
		if err := w.eng.ReplaceModule(ctx, inv.Msg); err != nil {
			return invocation.Fail(inv, err.Error())
		}
		return invocation.Ok(inv, nil)
	}

	return w.pipeline.InvokeActor(inv, func(i invocation.Invocation) invocation.Response {
		out, err := w.eng.Call(ctx, i.Operation, i.Msg)
		if err != nil {
			return invocation.Fail(i, err.Error())
		}
		return invocation.Ok(i, out)
	})
}

// cascadeDeconfigure sends OP_REMOVE_ACTOR to every provider this actor is
// bound to, awaiting each reply, before the worker exits.
func (w *ActorWorker) cascadeDeconfigure() {
	if w.bindings == nil {
		return
	}
	for _, b := range w.bindings(w.subject) {
		subject := bus.BoundProviderSubject(b.CapID, b.Binding, w.subject)
		inv := invocation.New(
			invocation.ActorEntity(w.subject),
			invocation.CapabilityEntity(b.CapID, b.Binding),
			"RemoveActor",
			nil,
			"",
		)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		resp, err := w.bus.Invoke(ctx, subject, inv)
		cancel()
		if err != nil {
			logging.Error("ActorWorker", err, "cascade deconfigure failed for %s on %s/%s", w.subject, b.CapID, b.Binding)
			continue
		}
		if resp.Error != "" {
			logging.Warn("ActorWorker", "provider %s/%s rejected deconfigure of %s: %s", b.CapID, b.Binding, w.subject, resp.Error)
		}
	}
}
