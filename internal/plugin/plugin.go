// Package plugin implements the native capability provider ABI,
// the Dispatcher duality that breaks the provider -> bus -> actor reference
// cycle, and the plugin manager that
// owns loaded providers keyed by (binding, capid).
package plugin

import (
	"context"
	"fmt"
	"sync"

	plugpkg "plugin"

	"wasmhost/pkg/codec"
	"wasmhost/pkg/herrors"
)

// SystemActor is the synthetic origin used to probe a freshly loaded plugin
// with OP_GET_CAPABILITY_DESCRIPTOR before any real actor is bound to it.
const SystemActor = "system"

// FactorySymbol is the well-known exported symbol name every native plugin
// must provide.
const FactorySymbol = "__capability_provider_create"

// CapabilityProvider is the interface a native plugin's factory function
// must return.
type CapabilityProvider interface {
	CapabilityID() string
	Name() string
	ConfigureDispatch(d Dispatcher) error
	HandleCall(originActor, operation string, msg []byte) ([]byte, error)
}

// Dispatcher is handed to a provider so it can call back into actors
// without holding a direct reference to any actor object; the dispatcher
// routes the call onto the bus instead.
type Dispatcher interface {
	Dispatch(ctx context.Context, actorSubject, operation string, msg []byte) ([]byte, error)
}

// FactoryFunc is the Go-side shape a native plugin's exported factory must
// satisfy: it is looked up by FactorySymbol and called with no arguments.
type FactoryFunc func() CapabilityProvider

type routeKey struct {
	binding, capID string
}

// loadedPlugin owns both the boxed CapabilityProvider and the library
// handle that produced it. The drop order in Release (provider first,
// library second) is mandatory: reversing it invalidates the provider's
// vtable pointers.
type loadedPlugin struct {
	provider CapabilityProvider
	lib      *plugpkg.Plugin
}

// Manager owns the set of loaded native plugins, keyed by (binding, capid).
type Manager struct {
	mu      sync.RWMutex
	plugins map[routeKey]*loadedPlugin
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{plugins: make(map[routeKey]*loadedPlugin)}
}

// LoadNative opens the shared object at path, looks up FactorySymbol, and
// constructs the provider it returns. The returned provider is not yet
// registered with the Manager — callers call Add once the provider's
// descriptor has been probed and authorized.
func LoadNative(path string) (CapabilityProvider, *plugpkg.Plugin, error) {
	lib, err := plugpkg.Open(path)
	if err != nil {
		return nil, nil, herrors.Wrap(herrors.CapabilityProvider, "open plugin "+path, err)
	}

	sym, err := lib.Lookup(FactorySymbol)
	if err != nil {
		return nil, nil, herrors.Wrap(herrors.CapabilityProvider, "lookup "+FactorySymbol, err)
	}

	factory, ok := sym.(func() CapabilityProvider)
	if !ok {
		return nil, nil, herrors.Newf(herrors.CapabilityProvider, "%s has unexpected signature in %s", FactorySymbol, path)
	}

	provider := factory()
	return provider, lib, nil
}

// Add registers provider (and the library handle that produced it, if any)
// under (binding, capid). Fails if that key is already occupied.
func (m *Manager) Add(binding, capID string, provider CapabilityProvider, lib *plugpkg.Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := routeKey{binding, capID}
	if _, exists := m.plugins[k]; exists {
		return herrors.Newf(herrors.CapabilityProvider, "plugin already loaded for %s/%s", capID, binding)
	}
	m.plugins[k] = &loadedPlugin{provider: provider, lib: lib}
	return nil
}

// RegisterDispatcher hands d to the provider at (binding, capid) via its
// ConfigureDispatch hook.
func (m *Manager) RegisterDispatcher(binding, capID string, d Dispatcher) error {
	m.mu.RLock()
	lp, ok := m.plugins[routeKey{binding, capID}]
	m.mu.RUnlock()
	if !ok {
		return herrors.Newf(herrors.CapabilityProvider, "no plugin loaded for %s/%s", capID, binding)
	}
	if err := lp.provider.ConfigureDispatch(d); err != nil {
		return herrors.Wrap(herrors.CapabilityProvider, "configure_dispatch", err)
	}
	return nil
}

// Call routes an invocation to the plugin's HandleCall, rejecting the call
// if originActorSubject is empty. SystemActor is accepted as an origin for the handful of
// root-subject operations the provider worker itself issues before any
// actor is bound.
func (m *Manager) Call(binding, capID, originActorSubject, operation string, msg []byte) ([]byte, error) {
	if originActorSubject == "" {
		return nil, herrors.New(herrors.CapabilityProvider, "capability call origin must be an actor")
	}

	m.mu.RLock()
	lp, ok := m.plugins[routeKey{binding, capID}]
	m.mu.RUnlock()
	if !ok {
		return nil, herrors.Newf(herrors.CapabilityProvider, "no plugin loaded for %s/%s", capID, binding)
	}

	resp, err := safeHandleCall(lp.provider, originActorSubject, operation, msg)
	if err != nil {
		return nil, herrors.Wrap(herrors.CapabilityProvider, "handle_call", err)
	}
	return resp, nil
}

// safeHandleCall recovers a plugin panic at the FFI boundary and surfaces
// it as a CapabilityProvider error.
func safeHandleCall(p CapabilityProvider, originActor, operation string, msg []byte) (resp []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return p.HandleCall(originActor, operation, msg)
}

// Remove drops the plugin at (binding, capid), releasing the provider
// before the library handle that produced it.
func (m *Manager) Remove(binding, capID string) {
	m.mu.Lock()
	lp, ok := m.plugins[routeKey{binding, capID}]
	if ok {
		delete(m.plugins, routeKey{binding, capID})
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	lp.provider = nil
	// lib is released last; a nil *plugin.Plugin from a fake/native plugin
	// used only in tests need not be closed (plugin.Plugin has no Close).
	_ = lp.lib
}

// Descriptor probes the provider at (binding, capid) for its
// CapabilityDescriptor via OP_GET_CAPABILITY_DESCRIPTOR, originating from
// SystemActor.
func (m *Manager) Descriptor(binding, capID string) (codec.CapabilityDescriptor, error) {
	resp, err := m.Call(binding, capID, SystemActor, OpGetCapabilityDescriptor, nil)
	if err != nil {
		return codec.CapabilityDescriptor{}, err
	}
	var desc codec.CapabilityDescriptor
	if err := codec.Decode(resp, &desc); err != nil {
		return codec.CapabilityDescriptor{}, err
	}
	return desc, nil
}

// Well-known operation strings.
const (
	OpConfigure               = "Configure"
	OpBindActor               = "BindActor"
	OpRemoveActor             = "RemoveActor"
	OpGetCapabilityDescriptor = "GetCapabilityDescriptor"
	OpIdentifyCapability      = "IdentifyCapability"
	OpPerformLiveUpdate       = "PerformLiveUpdate"
)
