// Command host is a minimal, from-scratch illustration of wiring a Host:
// build it, load one signed actor, print its inventory, then shut down
// cleanly. It is not a CLI in the sense of spec.md's "manifest loader /
// CLI argument parser" non-goals — there is no flag parsing, no YAML —
// just the direct Builder wiring the original src/bin.rs performed by
// reading a manifest, done here by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"wasmhost/internal/engine"
	"wasmhost/internal/host"
	"wasmhost/pkg/logging"
)

func main() {
	logging.InitForCLI(logging.LevelInfo, os.Stderr)

	h, err := host.NewBuilder().
		WithEngineFactory(fakeEngineFactory).
		Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build host:", err)
		os.Exit(1)
	}
	defer h.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	actorSubject, err := h.AddActor(ctx, wasmWithToken(demoActorToken))
	if err != nil {
		fmt.Fprintln(os.Stderr, "add actor:", err)
		os.Exit(1)
	}
	logging.Info("cmd/host", "loaded actor %s", actorSubject)

	// A real deployment loads a native provider from a compiled shared
	// library with h.AddNativeCapability(path, binding) and binds it with
	// h.BindActor; this illustrative binary has no .so to load, so it
	// stops at the built-in wascc:extras provider the Builder always
	// auto-loads, and prints the resulting inventory.
	fmt.Println("actors:", h.Actors())
	fmt.Println("capabilities:", h.Capabilities())
}

// fakeEngineFactory stands in for the wazero-backed production factory in
// this illustrative binary, so it runs without a real compiled actor
// module on disk. Production callers simply omit WithEngineFactory and
// get engine.NewWazeroEngine.
var nextDemoEngineID uint64

func fakeEngineFactory(ctx context.Context, wasm []byte, sandbox engine.SandboxParams, cb engine.HostCallback) (engine.GuestEngine, error) {
	nextDemoEngineID++
	return engine.NewFakeEngine(nextDemoEngineID, wasm, cb, func(ctx context.Context, op string, msg []byte, cb engine.HostCallback) ([]byte, error) {
		return append([]byte("handled:"), msg...), nil
	}), nil
}

// demoActorToken is an unsigned ("none" alg) JWT carrying the claims shape
// claims.ParseUnverified expects: a stable subject, and a single declared
// capability matching the provider bound below.
const demoActorToken = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
	"eyJzdWIiOiJNZGVtbyIsImlzcyI6ImFjY3QiLCJuYW1lIjoiZGVtbyIsImNhcHMiOlsid2FzY2M6a2V5dmFsdWUiXX0."

// wasmWithToken builds a minimal, well-formed WebAssembly module header
// carrying token in a "jwt" custom section, the same shape
// host.ExtractEmbeddedToken looks for.
func wasmWithToken(token string) []byte {
	name := []byte("jwt")
	payload := append(encodeVarUint32(uint32(len(name))), name...)
	payload = append(payload, []byte(token)...)

	section := append([]byte{0}, encodeVarUint32(uint32(len(payload)))...)
	section = append(section, payload...)

	out := append([]byte("\x00asm"), []byte{1, 0, 0, 0}...)
	out = append(out, section...)
	return out
}

func encodeVarUint32(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}
