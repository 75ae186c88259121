// Package bus defines the subject-addressed message bus contract the core
// depends on and the canonical subject scheme shared by every
// transport implementation.
package bus

import (
	"context"
	"strings"

	"wasmhost/internal/invocation"
)

// Bus is the contract every transport (in-process or distributed) must
// satisfy. Subscribe registers a handler that receives exactly one delivery
// per Invoke call targeting its subject (competing-consumer semantics).
// Invoke blocks until a reply arrives or the bus's configured RPC deadline
// elapses.
type Bus interface {
	// Subscribe registers handle to be called for every Invoke on subject.
	// Returns an error if subject is already subscribed.
	Subscribe(subject string, handle func(context.Context, invocation.Invocation) invocation.Response) error
	// Invoke sends inv to subject and waits for its single reply.
	Invoke(ctx context.Context, subject string, inv invocation.Invocation) (invocation.Response, error)
	// Unsubscribe removes subject's handler. Idempotent.
	Unsubscribe(subject string) error
	// PublishEvent publishes a fire-and-forget event. A no-op is a valid
	// implementation for transports without a pub/sub side channel.
	PublishEvent(subject string, payload []byte) error
}

// Event subjects published by the host during lifecycle transitions.
const (
	EventsSubject          = "wasmbus.events"
	InventoryWildcard      = "wasmbus.inventory.*"
	EventActorStarted      = "actor_started"
	EventActorStopped      = "actor_stopped"
	EventProviderStarted   = "provider_started"
	EventProviderStopped   = "provider_stopped"
	EventBindingCreated    = "binding_created"
	EventBindingRemoved    = "binding_removed"
)

// normalizeSegment lowercases s and replaces ':' with '.', the canonical
// subject form every transport must agree on.
func normalizeSegment(s string) string {
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, ":", ".")
}

// ActorSubject returns the subject an actor worker subscribes on.
func ActorSubject(actorSubject string) string {
	return "wasmbus.actor." + normalizeSegment(actorSubject)
}

// ProviderSubject returns the root subject a provider worker subscribes on.
func ProviderSubject(capID, binding string) string {
	if binding == "" {
		binding = "default"
	}
	return "wasmbus.provider." + normalizeSegment(capID) + "." + normalizeSegment(binding)
}

// BoundProviderSubject returns the private per-actor subject a bound-pair
// worker subscribes on.
func BoundProviderSubject(capID, binding, actorSubject string) string {
	return ProviderSubject(capID, binding) + "." + normalizeSegment(actorSubject)
}
