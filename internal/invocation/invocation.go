// Package invocation defines the typed envelope that crosses the bus:
// Invocation and Response, plus the Entity variants that name an
// invocation's origin and target.
package invocation

import (
	"strings"

	"github.com/google/uuid"
)

// EntityKind distinguishes the two shapes an Entity can take.
type EntityKind int

const (
	KindActor EntityKind = iota
	KindCapability
)

// Entity identifies either an actor (by public-key subject) or a capability
// provider instance (by capability-id + binding name).
type Entity struct {
	Kind    EntityKind
	Subject string // set when Kind == KindActor
	CapID   string // set when Kind == KindCapability
	Binding string // set when Kind == KindCapability
}

// ActorEntity builds an Entity naming an actor by its public-key subject.
func ActorEntity(subject string) Entity {
	return Entity{Kind: KindActor, Subject: subject}
}

// CapabilityEntity builds an Entity naming a capability provider instance.
// An empty binding normalizes to "default".
func CapabilityEntity(capID, binding string) Entity {
	if binding == "" {
		binding = "default"
	}
	return Entity{Kind: KindCapability, CapID: capID, Binding: binding}
}

func (e Entity) String() string {
	if e.Kind == KindActor {
		return "actor:" + e.Subject
	}
	return "capability:" + e.CapID + "/" + e.Binding
}

// IsActor reports whether an actor's 56-character, "M"-prefixed public key
// was supplied as a host-import namespace.
func IsActor(namespace string) bool {
	return len(namespace) == 56 && strings.HasPrefix(namespace, "M")
}

// NormalizeOperation strips a legacy "capid!operation" prefix, accepting
// both the legacy and modern forms on input while only ever emitting the
// modern, prefix-free form downstream.
func NormalizeOperation(op string) string {
	if idx := strings.IndexByte(op, '!'); idx >= 0 {
		return op[idx+1:]
	}
	return op
}

// Invocation is the unit that crosses the bus.
type Invocation struct {
	ID            string
	Origin        Entity
	Target        Entity
	Operation     string
	Msg           []byte
	HostSignature string
}

// New builds an Invocation with a fresh ID and the operation normalized to
// its modern, prefix-free form.
func New(origin, target Entity, operation string, msg []byte, hostSignature string) Invocation {
	return Invocation{
		ID:            uuid.NewString(),
		Origin:        origin,
		Target:        target,
		Operation:     NormalizeOperation(operation),
		Msg:           msg,
		HostSignature: hostSignature,
	}
}

// Response is the reply to an Invocation. Error is empty on success.
type Response struct {
	InvocationID string
	Msg          []byte
	Error        string
}

// Ok builds a successful Response correlated to inv.
func Ok(inv Invocation, msg []byte) Response {
	return Response{InvocationID: inv.ID, Msg: msg}
}

// Fail builds an error Response correlated to inv.
func Fail(inv Invocation, errMsg string) Response {
	return Response{InvocationID: inv.ID, Error: errMsg}
}

// TimeoutTag is the Response.Error value used when a bus invoke exceeds its
// configured RPC deadline.
const TimeoutTag = "timeout"
