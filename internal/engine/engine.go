// Package engine defines the guest WebAssembly engine contract and the production wazero-backed implementation.
package engine

import (
	"context"

	"wasmhost/pkg/herrors"
)

// HostCallback is invoked by the guest at any time during Call, to reach
// out onto the bus.
type HostCallback func(ctx context.Context, guestID uint64, bindingName, namespace, operation string, payload []byte) ([]byte, error)

// SandboxParams configures the ambient environment exposed to a guest
// instance: preopened directories, environment variables, and argv. Empty
// by default.
type SandboxParams struct {
	Preopens map[string]string
	Env      map[string]string
	Argv     []string
}

// GuestEngine is the external collaborator wrapping a single loaded
// WebAssembly module instance.
type GuestEngine interface {
	// ID returns the numeric guest-instance id used to attribute host calls.
	ID() uint64
	// Call invokes the guest's exported entry point for op with msg,
	// returning its result bytes. May invoke the HostCallback any number of
	// times before returning.
	Call(ctx context.Context, op string, msg []byte) ([]byte, error)
	// ReplaceModule hot-swaps the underlying module bytes in place. The
	// caller (actor worker) is responsible for verifying the new module's
	// public key matches before calling this.
	ReplaceModule(ctx context.Context, wasm []byte) error
	// Close releases the engine's resources.
	Close(ctx context.Context) error
}

// ErrTrap wraps a guest trap as a GuestEngine error with the conventional
// "failed to invoke actor: <detail>" message.
func ErrTrap(detail error) error {
	return herrors.Wrap(herrors.GuestEngine, "failed to invoke actor", detail)
}
