// Package router holds the subject-to-channel mapping the host keeps for
// each active entity: for every (binding, entity-id) pair, a channel
// triple used to deliver invocations, receive responses, and signal
// termination.
package router

import (
	"sync"

	"wasmhost/internal/invocation"
	"wasmhost/pkg/herrors"
)

// Route is the channel triple a worker registers for its entity.
type Route struct {
	InvCh  chan invocation.Invocation
	RespCh chan invocation.Response
	TermCh chan struct{}

	// CapID/Binding are populated for capability routes; zero for actor
	// routes. Used by AllCapabilities for cascade deconfigure.
	CapID   string
	Binding string
}

type key struct {
	binding string
	id      string
}

// Router maps (binding, entity-id) to a Route. A "" binding on lookup is
// normalized to the default binding.
type Router struct {
	mu     sync.RWMutex
	routes map[key]Route
}

// New returns an empty Router.
func New() *Router {
	return &Router{routes: make(map[key]Route)}
}

func normalizeBinding(binding string) string {
	if binding == "" {
		return "default"
	}
	return binding
}

// AddRoute registers route under (binding, id). Fails if the key already
// has a route.
func (r *Router) AddRoute(binding, id string, route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{normalizeBinding(binding), id}
	if _, exists := r.routes[k]; exists {
		return herrors.Newf(herrors.Misc, "route already exists for %s/%s", binding, id)
	}
	r.routes[k] = route
	return nil
}

// GetRoute looks up the route for (binding, id).
func (r *Router) GetRoute(binding, id string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[key{normalizeBinding(binding), id}]
	return route, ok
}

// RemoveRoute removes the route for (binding, id). Idempotent.
func (r *Router) RemoveRoute(binding, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, key{normalizeBinding(binding), id})
}

// Terminate sends a termination signal on the route's terminator channel,
// if the route exists, and removes it. Safe to call more than once.
func (r *Router) Terminate(binding, id string) {
	r.mu.Lock()
	route, ok := r.routes[key{normalizeBinding(binding), id}]
	if ok {
		delete(r.routes, key{normalizeBinding(binding), id})
	}
	r.mu.Unlock()

	if ok {
		close(route.TermCh)
	}
}

// AllCapabilities returns every registered capability-provider route
// (CapID non-empty), used for cascade deconfigure and inventory queries.
func (r *Router) AllCapabilities() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		if route.CapID != "" {
			out = append(out, route)
		}
	}
	return out
}
