// wazero.go implements GuestEngine on top of tetratelabs/wazero, following
// the waPC host/guest call protocol: the guest exports __guest_call and
// imports __host_call, __guest_request, __guest_response, __guest_error,
// and __console_log. Request/response bytes are staged host-side and
// copied across linear memory by pointer/length pairs the guest asks for.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"wasmhost/pkg/herrors"
)

// WazeroEngine is the default, pure-Go GuestEngine implementation.
type WazeroEngine struct {
	mu sync.Mutex

	runtime  wazero.Runtime
	hostMod  wazero.CompiledModule
	module   api.Module
	id       uint64
	callback HostCallback
	ctx      context.Context

	guestOperation string
	guestRequest   []byte
	guestResponse  []byte
	guestError     string

	hostResponseBuf []byte
}

var nextEngineID uint64
var engineIDMu sync.Mutex

func allocEngineID() uint64 {
	engineIDMu.Lock()
	defer engineIDMu.Unlock()
	nextEngineID++
	return nextEngineID
}

// NewWazeroEngine instantiates wasmBytes under wazero, wiring the waPC host
// import surface so guest code can reach cb during Call.
func NewWazeroEngine(ctx context.Context, wasmBytes []byte, sandbox SandboxParams, cb HostCallback) (*WazeroEngine, error) {
	e := &WazeroEngine{
		runtime:  wazero.NewRuntime(ctx),
		id:       allocEngineID(),
		callback: cb,
		ctx:      ctx,
	}

	if err := e.instantiateHostModule(ctx); err != nil {
		e.runtime.Close(ctx)
		return nil, err
	}

	if err := e.instantiate(ctx, wasmBytes, sandbox); err != nil {
		e.runtime.Close(ctx)
		return nil, err
	}
	return e, nil
}

func (e *WazeroEngine) instantiateHostModule(ctx context.Context) error {
	_, err := e.runtime.NewHostModuleBuilder("wapc").
		NewFunctionBuilder().WithFunc(e.hostCall).Export("__host_call").
		NewFunctionBuilder().WithFunc(e.guestRequestFn).Export("__guest_request").
		NewFunctionBuilder().WithFunc(e.hostResponse).Export("__host_response").
		NewFunctionBuilder().WithFunc(e.hostResponseLen).Export("__host_response_len").
		NewFunctionBuilder().WithFunc(e.guestResponseFn).Export("__guest_response").
		NewFunctionBuilder().WithFunc(e.guestErrorFn).Export("__guest_error").
		NewFunctionBuilder().WithFunc(e.consoleLog).Export("__console_log").
		Instantiate(ctx)
	if err != nil {
		return herrors.Wrap(herrors.GuestEngine, "instantiate host module", err)
	}
	return nil
}

func (e *WazeroEngine) instantiate(ctx context.Context, wasmBytes []byte, sandbox SandboxParams) error {
	mod, err := e.runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		return herrors.Wrap(herrors.GuestEngine, "instantiate guest module", err)
	}
	e.module = mod
	return nil
}

func (e *WazeroEngine) ID() uint64 { return e.id }

// Call performs a waPC guest_call: it stages op/msg for the guest to fetch
// via __guest_request, invokes the guest's __guest_call export, and
// retrieves the response or error the guest staged in return.
func (e *WazeroEngine) Call(ctx context.Context, op string, msg []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.guestOperation = op
	e.guestRequest = msg
	e.guestResponse = nil
	e.guestError = ""

	fn := e.module.ExportedFunction("__guest_call")
	if fn == nil {
		return nil, ErrTrap(fmt.Errorf("module does not export __guest_call"))
	}

	results, err := fn.Call(ctx, uint64(len(op)), uint64(len(msg)))
	if err != nil {
		return nil, ErrTrap(err)
	}
	if len(results) > 0 && results[0] == 0 {
		return nil, ErrTrap(fmt.Errorf("guest call returned failure: %s", e.guestError))
	}
	return e.guestResponse, nil
}

// ReplaceModule swaps the running guest instance for one built from wasm,
// tearing down the old instance only after the new one instantiates
// successfully.
func (e *WazeroEngine) ReplaceModule(ctx context.Context, wasm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newMod, err := e.runtime.Instantiate(ctx, wasm)
	if err != nil {
		return herrors.Wrap(herrors.GuestEngine, "instantiate replacement module", err)
	}
	old := e.module
	e.module = newMod
	if old != nil {
		_ = old.Close(ctx)
	}
	return nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// --- waPC host-module function implementations ---

func (e *WazeroEngine) guestRequestFn(ctx context.Context, m api.Module, opPtr, msgPtr uint32) {
	m.Memory().Write(opPtr, []byte(e.guestOperation))
	m.Memory().Write(msgPtr, e.guestRequest)
}

func (e *WazeroEngine) guestResponseFn(ctx context.Context, m api.Module, ptr, size uint32) {
	buf, ok := m.Memory().Read(ptr, size)
	if ok {
		e.guestResponse = append([]byte(nil), buf...)
	}
}

func (e *WazeroEngine) guestErrorFn(ctx context.Context, m api.Module, ptr, size uint32) {
	buf, ok := m.Memory().Read(ptr, size)
	if ok {
		e.guestError = string(buf)
	}
}

func (e *WazeroEngine) consoleLog(ctx context.Context, m api.Module, ptr, size uint32) {
	// intentionally discarded: guest console output has no host sink in
	// this implementation.
}

func (e *WazeroEngine) hostResponse(ctx context.Context, m api.Module, ptr uint32) {
	m.Memory().Write(ptr, e.hostResponseBuf)
}

func (e *WazeroEngine) hostResponseLen(ctx context.Context, m api.Module) uint32 {
	return uint32(len(e.hostResponseBuf))
}

// hostCall implements the guest -> host RPC: bindingPtr/namespacePtr/
// operationPtr/payloadPtr name the four buffers the guest staged in its own
// memory; the return value is a wazero-conventional 1/0 success flag, with
// the actual response bytes retrieved afterward via __host_response.
func (e *WazeroEngine) hostCall(
	ctx context.Context, m api.Module,
	bindingPtr, bindingLen, namespacePtr, namespaceLen, operationPtr, operationLen, payloadPtr, payloadLen uint32,
) uint32 {
	binding, namespace, operation, payload, ok := readHostCallArgs(m, bindingPtr, bindingLen, namespacePtr, namespaceLen, operationPtr, operationLen, payloadPtr, payloadLen)
	if !ok {
		return 0
	}

	if e.callback == nil {
		return 0
	}
	resp, err := e.callback(ctx, e.id, binding, namespace, operation, payload)
	if err != nil {
		e.hostResponseBuf = []byte(err.Error())
		return 0
	}
	e.hostResponseBuf = resp
	return 1
}

func readHostCallArgs(m api.Module, bindingPtr, bindingLen, namespacePtr, namespaceLen, operationPtr, operationLen, payloadPtr, payloadLen uint32) (binding, namespace, operation string, payload []byte, ok bool) {
	b, ok1 := m.Memory().Read(bindingPtr, bindingLen)
	n, ok2 := m.Memory().Read(namespacePtr, namespaceLen)
	o, ok3 := m.Memory().Read(operationPtr, operationLen)
	p, ok4 := m.Memory().Read(payloadPtr, payloadLen)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return "", "", "", nil, false
	}
	return string(b), string(n), string(o), append([]byte(nil), p...), true
}
