// Package host implements the Host façade: the entry point that wires the
// claims store, router, bus, plugin manager, and middleware pipeline
// together and exposes the host's lifecycle operations.
package host

import (
	"context"
	"sync"
	"time"

	"wasmhost/internal/authz"
	"wasmhost/internal/bus"
	"wasmhost/internal/claims"
	"wasmhost/internal/engine"
	"wasmhost/internal/extras"
	"wasmhost/internal/invocation"
	"wasmhost/internal/middleware"
	"wasmhost/internal/plugin"
	"wasmhost/internal/router"
	"wasmhost/internal/worker"
	"wasmhost/pkg/codec"
	"wasmhost/pkg/herrors"
	"wasmhost/pkg/logging"
)

// binding is one active (actor, capability, binding-name) tuple, plus the
// configuration it was bound with.
type binding struct {
	actorSubject string
	capID        string
	bindingName  string
	config       map[string]string
}

// EngineFactory constructs a GuestEngine for newly loaded actor/provider
// module bytes. Production hosts pass engine.NewWazeroEngine; tests pass a
// factory producing engine.FakeEngine instances.
type EngineFactory func(ctx context.Context, wasm []byte, sandbox engine.SandboxParams, cb engine.HostCallback) (engine.GuestEngine, error)

// Host is the top-level façade. Multiple Hosts in the same process are
// independent.
type Host struct {
	claimsStore *claims.Store
	router      *router.Router
	plugins     *plugin.Manager
	bus         bus.Bus
	authorizer  authz.Authorizer
	pipeline    *middleware.Pipeline
	engineNew   EngineFactory
	verifier    claims.TokenVerifier

	// bindingsMu guards bindings; acquire-order across the host's locks is
	// fixed as claims -> router -> plugins -> bindings.
	bindingsMu sync.RWMutex
	bindings   []binding

	actorWorkers map[string]*worker.ActorWorker
	providerKey  map[string]*worker.ProviderWorker  // key: capID+"/"+binding
	boundPairs   map[string]*worker.BoundPairWorker // key: capID+"/"+binding+"/"+actor
	workersMu    sync.RWMutex

	rpcTimeout time.Duration
}

// Builder constructs a Host with pluggable collaborators installed before
// any actor or provider is loaded.
type Builder struct {
	h *Host
}

// NewBuilder returns a Builder seeded with the default in-process bus, the
// default authorizer, an empty middleware pipeline, and the wazero guest
// engine factory.
func NewBuilder() *Builder {
	return &Builder{h: &Host{
		claimsStore:  claims.NewStore(),
		router:       router.New(),
		plugins:      plugin.NewManager(),
		authorizer:   authz.NewDefaultAuthorizer(),
		pipeline:     middleware.NewPipeline(),
		actorWorkers: make(map[string]*worker.ActorWorker),
		providerKey:  make(map[string]*worker.ProviderWorker),
		boundPairs:   make(map[string]*worker.BoundPairWorker),
		rpcTimeout:   0,
	}}
}

// WithBus overrides the default in-process bus (e.g. with natsbus.Bus for
// a distributed transport).
func (b *Builder) WithBus(bu bus.Bus) *Builder { b.h.bus = bu; return b }

// WithAuthorizer installs a custom Authorizer.
func (b *Builder) WithAuthorizer(a authz.Authorizer) *Builder { b.h.authorizer = a; return b }

// WithMiddleware appends middleware stages, in registration order.
func (b *Builder) WithMiddleware(stages ...middleware.Middleware) *Builder {
	b.h.pipeline = middleware.NewPipeline(stages...)
	return b
}

// WithEngineFactory overrides the default wazero-backed GuestEngine
// factory (tests install a FakeEngine factory here).
func (b *Builder) WithEngineFactory(f EngineFactory) *Builder { b.h.engineNew = f; return b }

// WithTokenVerifier installs the external signature verifier consulted
// before claims extracted from a module are trusted.
func (b *Builder) WithTokenVerifier(v claims.TokenVerifier) *Builder { b.h.verifier = v; return b }

// Build finalizes the Host, installing defaults for anything not
// explicitly configured, and auto-loads the built-in extras provider.
func (b *Builder) Build() (*Host, error) {
	h := b.h
	if h.bus == nil {
		h.bus = newDefaultBus()
	}
	if h.engineNew == nil {
		h.engineNew = func(ctx context.Context, wasm []byte, sandbox engine.SandboxParams, cb engine.HostCallback) (engine.GuestEngine, error) {
			return engine.NewWazeroEngine(ctx, wasm, sandbox, cb)
		}
	}

	if err := h.loadExtras(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) loadExtras() error {
	p := extras.New()
	if err := h.plugins.Add("default", extras.CapabilityID, p, nil); err != nil {
		return err
	}
	return h.spawnProviderWorker(extras.CapabilityID, "default")
}

// AddActor validates wasm, extracts and authorizes its claims, and spawns
// an actor worker.
func (h *Host) AddActor(ctx context.Context, wasm []byte) (string, error) {
	c, err := h.extractAndVerify(wasm)
	if err != nil {
		return "", err
	}
	if err := h.authorizer.CanLoad(c); err != nil {
		return "", err
	}

	cb := h.hostCallback()
	eng, err := h.engineNew(ctx, wasm, engine.SandboxParams{}, cb)
	if err != nil {
		return "", err
	}

	// Claims are keyed by the engine's own instance id, the same id it
	// reports on every host call — there is no second id space to keep in
	// sync with it.
	if err := h.claimsStore.RegisterWithGuestID(eng.ID(), c); err != nil {
		_ = eng.Close(ctx)
		return "", err
	}

	w := worker.NewActorWorker(c.Subject, eng, h.pipeline, h.bus, h.bindingsFor)

	route := router.Route{InvCh: nil, RespCh: nil, TermCh: w.TermChan()}
	if err := h.router.AddRoute("", c.Subject, route); err != nil {
		h.claimsStore.Unregister(c.Subject)
		_ = eng.Close(ctx)
		return "", err
	}

	subject := bus.ActorSubject(c.Subject)
	if err := h.bus.Subscribe(subject, w.Handle); err != nil {
		h.router.RemoveRoute("", c.Subject)
		h.claimsStore.Unregister(c.Subject)
		_ = eng.Close(ctx)
		return "", err
	}

	h.workersMu.Lock()
	h.actorWorkers[c.Subject] = w
	h.workersMu.Unlock()

	w.Start(func() {
		h.bus.Unsubscribe(subject)
		h.router.RemoveRoute("", c.Subject)
		h.claimsStore.Unregister(c.Subject)
		h.workersMu.Lock()
		delete(h.actorWorkers, c.Subject)
		h.workersMu.Unlock()
	})

	h.bus.PublishEvent(bus.EventsSubject, []byte(bus.EventActorStarted+":"+c.Subject))
	logging.Info("Host", "loaded actor %s", c.Subject)
	if dump, err := c.DebugYAML(); err == nil {
		logging.Debug("Host", "actor %s claims:\n%s", c.Subject, dump)
	}
	return c.Subject, nil
}

// AddNativeCapability loads a native plugin from path, probes its
// descriptor, authorizes it, and spawns a provider worker.
func (h *Host) AddNativeCapability(path, bindingName string) (string, error) {
	if bindingName == "" {
		bindingName = "default"
	}

	provider, lib, err := plugin.LoadNative(path)
	if err != nil {
		return "", err
	}
	capID := provider.CapabilityID()

	if err := h.plugins.Add(bindingName, capID, provider, lib); err != nil {
		return "", err
	}
	if err := h.spawnProviderWorker(capID, bindingName); err != nil {
		h.plugins.Remove(bindingName, capID)
		return "", err
	}

	if desc, err := h.plugins.Descriptor(bindingName, capID); err == nil {
		if dump, err := desc.DebugYAML(); err == nil {
			logging.Debug("PluginManager", "probed descriptor for %s/%s:\n%s", capID, bindingName, dump)
		}
	}
	return capID, nil
}

// AddCapability loads a portable WebAssembly provider module — identical
// to AddActor except the claims' Provider flag selects this worker kind.
func (h *Host) AddCapability(ctx context.Context, wasm []byte, sandbox engine.SandboxParams) (string, error) {
	c, err := h.extractAndVerify(wasm)
	if err != nil {
		return "", err
	}
	if !c.Provider {
		return "", herrors.New(herrors.TokenInvalid, "module claims do not declare a provider")
	}
	if err := h.authorizer.CanLoad(c); err != nil {
		return "", err
	}
	// Portable providers share the same actor-worker plumbing; only their
	// registration under the provider root subject differs. Out of scope
	// for this host's default wiring beyond claims validation — native
	// plugins are this host's primary provider kind.
	if _, err := h.claimsStore.Register(c); err != nil {
		return "", herrors.Wrap(herrors.Misc, "register claims", err)
	}
	return c.Subject, nil
}

func (h *Host) spawnProviderWorker(capID, bindingName string) error {
	key := capID + "/" + bindingName

	pw := worker.NewProviderWorker(capID, bindingName, h.plugins, worker.ProviderCallbacks{
		OnBindActor: func(actorSubject string, cfg map[string]string) error {
			return h.onBindActor(capID, bindingName, actorSubject, cfg)
		},
		OnRemoveActor: func(actorSubject string) error {
			return h.onRemoveActorBinding(capID, bindingName, actorSubject)
		},
	})

	route := router.Route{TermCh: pw.TermChan(), CapID: capID, Binding: bindingName}
	if err := h.router.AddRoute(bindingName, capID, route); err != nil {
		return err
	}

	subject := bus.ProviderSubject(capID, bindingName)
	if err := h.bus.Subscribe(subject, pw.Handle); err != nil {
		h.router.RemoveRoute(bindingName, capID)
		return err
	}

	h.workersMu.Lock()
	h.providerKey[key] = pw
	h.workersMu.Unlock()

	dispatcher := &hostDispatcher{h: h}
	_ = h.plugins.RegisterDispatcher(bindingName, capID, dispatcher)

	pw.Start(func() {
		h.bus.Unsubscribe(subject)
		h.router.RemoveRoute(bindingName, capID)
		h.workersMu.Lock()
		delete(h.providerKey, key)
		h.workersMu.Unlock()
	})

	logging.Info("Host", "loaded provider %s/%s", capID, bindingName)
	return nil
}

// BindActor sends a configure/bind invocation to the target provider;
// succeeds iff the provider replies without error, then records the
// binding.
func (h *Host) BindActor(ctx context.Context, actorSubject, capID, bindingName string, config map[string]string) error {
	if bindingName == "" {
		bindingName = "default"
	}

	callerClaims, ok := h.claimsStore.Lookup(actorSubject)
	if !ok {
		return herrors.Newf(herrors.Misc, "unknown actor %s", actorSubject)
	}
	target := invocation.CapabilityEntity(capID, bindingName)
	if err := h.authorizer.CanInvoke(callerClaims, target, plugin.OpBindActor); err != nil {
		return err
	}

	payload, err := codec.Encode(codec.ConfigMap{Module: actorSubject, Binding: bindingName, Values: config})
	if err != nil {
		return err
	}

	inv := invocation.New(invocation.ActorEntity(actorSubject), target, plugin.OpBindActor, payload, "")
	subject := bus.ProviderSubject(capID, bindingName)

	resp, err := h.bus.Invoke(ctx, subject, inv)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return herrors.New(herrors.Authorization, resp.Error)
	}

	h.bindingsMu.Lock()
	h.bindings = append(h.bindings, binding{actorSubject: actorSubject, capID: capID, bindingName: bindingName, config: config})
	h.bindingsMu.Unlock()

	h.bus.PublishEvent(bus.EventsSubject, []byte(bus.EventBindingCreated+":"+actorSubject+":"+capID+"/"+bindingName))
	return nil
}

// SetBinding is a synonym of BindActor used by manifests.
func (h *Host) SetBinding(ctx context.Context, actorSubject, capID, bindingName string, config map[string]string) error {
	return h.BindActor(ctx, actorSubject, capID, bindingName, config)
}

// onBindActor is the ProviderWorker callback run on a successful
// OP_BIND_ACTOR: it spawns a bound-pair worker for (actor, capid, binding).
func (h *Host) onBindActor(capID, bindingName, actorSubject string, cfg map[string]string) error {
	bp := worker.NewBoundPairWorker(capID, bindingName, actorSubject, h.plugins, h.pipeline, func() {
		h.dropBinding(capID, bindingName, actorSubject)
	})
	subject := bus.BoundProviderSubject(capID, bindingName, actorSubject)

	route := router.Route{TermCh: bp.TermChan(), CapID: capID, Binding: bindingName}
	if err := h.router.AddRoute(bindingName, capID+"!"+actorSubject, route); err != nil {
		return err
	}
	if err := h.bus.Subscribe(subject, bp.Handle); err != nil {
		h.router.RemoveRoute(bindingName, capID+"!"+actorSubject)
		return err
	}

	key := capID + "/" + bindingName + "/" + actorSubject
	h.workersMu.Lock()
	h.boundPairs[key] = bp
	h.workersMu.Unlock()

	bp.Start(func() {
		h.bus.Unsubscribe(subject)
		h.router.RemoveRoute(bindingName, capID+"!"+actorSubject)
		h.workersMu.Lock()
		delete(h.boundPairs, key)
		h.workersMu.Unlock()
	})
	return nil
}

// onRemoveActorBinding is the ProviderWorker callback run on OP_REMOVE_ACTOR
// at a provider's root subject: it terminates the matching bound-pair
// worker, which in turn drops the binding record via dropBinding once it
// has forwarded RemoveActor to the provider itself.
func (h *Host) onRemoveActorBinding(capID, bindingName, actorSubject string) error {
	key := capID + "/" + bindingName + "/" + actorSubject
	h.workersMu.RLock()
	bp, ok := h.boundPairs[key]
	h.workersMu.RUnlock()
	if ok {
		bp.Terminate()
	}
	return nil
}

// dropBinding removes the (actorSubject, capID, bindingName) binding
// record and publishes its removal. Called once a bound-pair worker has
// finished handling RemoveActor for that triple, whether the call arrived
// via an actor's cascade deconfigure or a provider's root-subject
// OP_REMOVE_ACTOR.
func (h *Host) dropBinding(capID, bindingName, actorSubject string) {
	h.bindingsMu.Lock()
	kept := h.bindings[:0]
	for _, b := range h.bindings {
		if b.capID == capID && b.bindingName == bindingName && b.actorSubject == actorSubject {
			continue
		}
		kept = append(kept, b)
	}
	h.bindings = kept
	h.bindingsMu.Unlock()

	h.bus.PublishEvent(bus.EventsSubject, []byte(bus.EventBindingRemoved+":"+actorSubject+":"+capID+"/"+bindingName))
}

// bindingsFor implements worker.BindingLookup for cascade deconfigure.
func (h *Host) bindingsFor(actorSubject string) []worker.Binding {
	h.bindingsMu.RLock()
	defer h.bindingsMu.RUnlock()

	out := make([]worker.Binding, 0)
	for _, b := range h.bindings {
		if b.actorSubject == actorSubject {
			out = append(out, worker.Binding{CapID: b.capID, Binding: b.bindingName})
		}
	}
	return out
}

// ReplaceActor extracts claims from newBytes, asserts the public key
// matches an existing actor, then issues OP_PERFORM_LIVE_UPDATE to that
// actor's subject.
func (h *Host) ReplaceActor(ctx context.Context, newBytes []byte) error {
	c, err := h.extractAndVerify(newBytes)
	if err != nil {
		return err
	}

	if _, ok := h.claimsStore.Lookup(c.Subject); !ok {
		return herrors.Newf(herrors.Misc, "no existing actor with public key %s", c.Subject)
	}

	inv := invocation.New(invocation.ActorEntity("system"), invocation.ActorEntity(c.Subject), worker.OpPerformLiveUpdate, newBytes, "")
	subject := bus.ActorSubject(c.Subject)
	resp, err := h.bus.Invoke(ctx, subject, inv)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return herrors.New(herrors.GuestEngine, resp.Error)
	}
	return nil
}

// RemoveActor terminates the actor's worker and waits for it to exit,
// which cascades deconfigure to every provider it was bound to.
func (h *Host) RemoveActor(actorSubject string) error {
	h.workersMu.RLock()
	w, ok := h.actorWorkers[actorSubject]
	h.workersMu.RUnlock()
	if !ok {
		return herrors.Newf(herrors.Misc, "no such actor %s", actorSubject)
	}
	w.Terminate()
	w.Wait()
	return nil
}

// RemoveNativeCapability terminates the provider worker at (capID, binding)
// and waits for it to exit.
func (h *Host) RemoveNativeCapability(capID, bindingName string) error {
	if bindingName == "" {
		bindingName = "default"
	}
	key := capID + "/" + bindingName
	h.workersMu.RLock()
	pw, ok := h.providerKey[key]
	h.workersMu.RUnlock()
	if !ok {
		return herrors.Newf(herrors.Misc, "no such provider %s/%s", capID, bindingName)
	}
	pw.Terminate()
	pw.Wait()
	h.plugins.Remove(bindingName, capID)
	return nil
}

// Shutdown terminates every worker, draining bound pairs, then actors,
// then providers — this order avoids a bound-pair worker calling into a
// provider that has already released its native plugin handle.
func (h *Host) Shutdown() {
	h.workersMu.RLock()
	boundPairs := make([]*worker.BoundPairWorker, 0, len(h.boundPairs))
	for _, bp := range h.boundPairs {
		boundPairs = append(boundPairs, bp)
	}
	actors := make([]*worker.ActorWorker, 0, len(h.actorWorkers))
	for _, w := range h.actorWorkers {
		actors = append(actors, w)
	}
	providers := make([]*worker.ProviderWorker, 0, len(h.providerKey))
	for _, pw := range h.providerKey {
		providers = append(providers, pw)
	}
	h.workersMu.RUnlock()

	for _, bp := range boundPairs {
		bp.Terminate()
	}
	for _, bp := range boundPairs {
		bp.Wait()
	}
	for _, w := range actors {
		w.Terminate()
	}
	for _, w := range actors {
		w.Wait()
	}
	for _, pw := range providers {
		pw.Terminate()
	}
	for _, pw := range providers {
		pw.Wait()
	}
}

// Actors returns the public keys of every currently loaded actor.
func (h *Host) Actors() []string {
	h.workersMu.RLock()
	defer h.workersMu.RUnlock()
	out := make([]string, 0, len(h.actorWorkers))
	for k := range h.actorWorkers {
		out = append(out, k)
	}
	return out
}

// Capabilities returns every loaded (capID, binding) pair.
func (h *Host) Capabilities() [][2]string {
	h.workersMu.RLock()
	defer h.workersMu.RUnlock()
	out := make([][2]string, 0, len(h.providerKey))
	for k := range h.providerKey {
		for i := 0; i < len(k); i++ {
			if k[i] == '/' {
				out = append(out, [2]string{k[:i], k[i+1:]})
				break
			}
		}
	}
	return out
}

// ClaimsForActor returns the claims registered for subject.
func (h *Host) ClaimsForActor(subject string) (claims.Claims, bool) {
	return h.claimsStore.Lookup(subject)
}

// Bindings returns a snapshot of the current binding table.
func (h *Host) Bindings() []worker.Binding {
	h.bindingsMu.RLock()
	defer h.bindingsMu.RUnlock()
	out := make([]worker.Binding, 0, len(h.bindings))
	for _, b := range h.bindings {
		out = append(out, worker.Binding{CapID: b.capID, Binding: b.bindingName})
	}
	return out
}

func (h *Host) extractAndVerify(wasm []byte) (claims.Claims, error) {
	token, err := ExtractEmbeddedToken(wasm)
	if err != nil {
		return claims.Claims{}, err
	}
	if h.verifier != nil {
		return h.verifier.Verify(token)
	}
	return claims.ParseUnverified(token)
}

// hostCallback builds the per-actor HostCallback given to the guest engine.
func (h *Host) hostCallback() engine.HostCallback {
	return func(ctx context.Context, guestID uint64, bindingName, namespace, operation string, payload []byte) ([]byte, error) {
		callerClaims, ok := h.claimsStore.ClaimsForGuestID(guestID)
		if !ok {
			return nil, herrors.New(herrors.HostCall, "unknown guest instance")
		}

		var target invocation.Entity
		if invocation.IsActor(namespace) {
			target = invocation.ActorEntity(namespace)
		} else {
			target = invocation.CapabilityEntity(namespace, bindingName)
		}

		if err := h.authorizer.CanInvoke(callerClaims, target, operation); err != nil {
			return nil, err
		}
		if target.Kind == invocation.KindCapability && !callerClaims.HasCapability(target.CapID) {
			return nil, herrors.Newf(herrors.Authorization, "caller has not attested capability %s", target.CapID)
		}

		inv := invocation.New(invocation.ActorEntity(callerClaims.Subject), target, operation, payload, "")

		var subject string
		if target.Kind == invocation.KindActor {
			subject = bus.ActorSubject(target.Subject)
		} else {
			subject = bus.BoundProviderSubject(target.CapID, target.Binding, callerClaims.Subject)
		}

		resp, err := h.bus.Invoke(ctx, subject, inv)
		if err != nil {
			return nil, herrors.Wrap(herrors.HostCall, "bus invoke", err)
		}
		if resp.Error != "" {
			return nil, herrors.New(herrors.HostCall, resp.Error)
		}
		return resp.Msg, nil
	}
}

// hostDispatcher implements plugin.Dispatcher by routing dispatch calls
// through the bus, never holding a direct reference to any actor object.
type hostDispatcher struct {
	h *Host
}

func (d *hostDispatcher) Dispatch(ctx context.Context, actorSubject, operation string, msg []byte) ([]byte, error) {
	inv := invocation.New(invocation.ActorEntity("system"), invocation.ActorEntity(actorSubject), operation, msg, "")
	subject := bus.ActorSubject(actorSubject)
	resp, err := d.h.bus.Invoke(ctx, subject, inv)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, herrors.New(herrors.HostCall, resp.Error)
	}
	return resp.Msg, nil
}
