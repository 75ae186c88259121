package host

import (
	"wasmhost/internal/bus"
	"wasmhost/internal/bus/inproc"
)

// newDefaultBus returns the in-process bus transport used when a Builder
// has no explicit WithBus call.
func newDefaultBus() bus.Bus {
	return inproc.New(inproc.DefaultRPCTimeout)
}
