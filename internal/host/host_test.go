package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wasmhost/internal/claims"
	"wasmhost/internal/engine"
	"wasmhost/internal/invocation"
	"wasmhost/internal/plugin"
)

// echoToken is an unsigned ("none" alg) JWT whose payload matches the
// claims shape ParseUnverified expects: subject Mabc, capability
// wascc:keyvalue.
const echoToken = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
	"eyJzdWIiOiJNYWJjIiwiaXNzIjoiYWNjdCIsIm5hbWUiOiJlY2hvIiwiY2FwcyI6WyJ3YXNjYzprZXl2YWx1ZSJdfQ."

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

// wasmWithToken builds a minimal, well-formed WebAssembly module header
// carrying token in a "jwt" custom section, matching what
// ExtractEmbeddedToken looks for.
func wasmWithToken(token string) []byte {
	name := []byte(jwtSectionName)
	payload := append(encodeVarUint32(uint32(len(name))), name...)
	payload = append(payload, []byte(token)...)

	section := append([]byte{0}, encodeVarUint32(uint32(len(payload)))...)
	section = append(section, payload...)

	out := append([]byte("\x00asm"), []byte{1, 0, 0, 0}...)
	out = append(out, section...)
	return out
}

var testEngineIDCounter uint64

func nextTestEngineID() uint64 {
	testEngineIDCounter++
	return testEngineIDCounter
}

func newTestFakeEngineFactory(handler engine.FakeHandler) EngineFactory {
	return func(ctx context.Context, wasm []byte, sandbox engine.SandboxParams, cb engine.HostCallback) (engine.GuestEngine, error) {
		return engine.NewFakeEngine(nextTestEngineID(), wasm, cb, handler), nil
	}
}

func echoHandler(ctx context.Context, op string, msg []byte, cb engine.HostCallback) ([]byte, error) {
	return append([]byte("echo:"), msg...), nil
}

func TestExtractEmbeddedTokenRoundTrip(t *testing.T) {
	wasm := wasmWithToken(echoToken)
	token, err := ExtractEmbeddedToken(wasm)
	require.NoError(t, err)
	assert.Equal(t, echoToken, token)
}

func TestExtractEmbeddedTokenRejectsUnsigned(t *testing.T) {
	_, err := ExtractEmbeddedToken(append([]byte("\x00asm"), []byte{1, 0, 0, 0}...))
	assert.Error(t, err)
}

func TestAddActorRegistersClaimsAndSubject(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, err := NewBuilder().WithEngineFactory(newTestFakeEngineFactory(echoHandler)).Build()
	require.NoError(t, err)
	defer h.Shutdown()

	subject, err := h.AddActor(context.Background(), wasmWithToken(echoToken))
	require.NoError(t, err)
	assert.Equal(t, "Mabc", subject)

	c, ok := h.ClaimsForActor("Mabc")
	require.True(t, ok)
	assert.True(t, c.HasCapability("wascc:keyvalue"))
	assert.Contains(t, h.Actors(), "Mabc")
}

func TestAddActorRejectsUnsignedModule(t *testing.T) {
	h, err := NewBuilder().Build()
	require.NoError(t, err)
	defer h.Shutdown()

	_, err = h.AddActor(context.Background(), []byte("\x00asmnotasigned"))
	assert.Error(t, err)
}

func TestAddActorDeniedByAuthorizer(t *testing.T) {
	h, err := NewBuilder().WithAuthorizer(denyLoadAuthorizer{}).Build()
	require.NoError(t, err)
	defer h.Shutdown()

	_, err = h.AddActor(context.Background(), wasmWithToken(echoToken))
	assert.Error(t, err)
}

type denyLoadAuthorizer struct{}

func (denyLoadAuthorizer) CanLoad(c claims.Claims) error {
	return errDenied
}
func (denyLoadAuthorizer) CanInvoke(caller claims.Claims, target invocation.Entity, operation string) error {
	return nil
}

type deniedError string

func (e deniedError) Error() string { return string(e) }

const errDenied = deniedError("denied by policy")

func TestBindActorSpawnsBoundPairAndCascadeDeconfigureOnRemove(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, err := NewBuilder().WithEngineFactory(newTestFakeEngineFactory(echoHandler)).Build()
	require.NoError(t, err)
	defer h.Shutdown()

	_, err = h.AddActor(context.Background(), wasmWithToken(echoToken))
	require.NoError(t, err)

	fp := &plugin.FakeProvider{CapID: "wascc:keyvalue", Pname: "fake kv"}
	require.NoError(t, h.plugins.Add("default", fp.CapID, fp, nil))
	require.NoError(t, h.spawnProviderWorker(fp.CapID, "default"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.BindActor(ctx, "Mabc", fp.CapID, "default", map[string]string{"k": "v"}))

	bindings := h.Bindings()
	require.Len(t, bindings, 1)
	assert.Equal(t, fp.CapID, bindings[0].CapID)

	require.NoError(t, h.RemoveActor("Mabc"))
	assert.Empty(t, h.Bindings())
}

func TestBindActorDeniedWithoutCapabilityAttestation(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, err := NewBuilder().WithEngineFactory(newTestFakeEngineFactory(echoHandler)).Build()
	require.NoError(t, err)
	defer h.Shutdown()

	_, err = h.AddActor(context.Background(), wasmWithToken(echoToken))
	require.NoError(t, err)

	fp := &plugin.FakeProvider{CapID: "wascc:messaging", Pname: "fake messaging"}
	require.NoError(t, h.plugins.Add("default", fp.CapID, fp, nil))
	require.NoError(t, h.spawnProviderWorker(fp.CapID, "default"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = h.BindActor(ctx, "Mabc", fp.CapID, "default", nil)
	assert.Error(t, err)
}

func TestDescriptorProbeThroughBuiltinExtrasProvider(t *testing.T) {
	h, err := NewBuilder().Build()
	require.NoError(t, err)
	defer h.Shutdown()

	desc, err := h.plugins.Descriptor("default", "wascc:extras")
	require.NoError(t, err)
	assert.Equal(t, "wascc:extras", desc.ID)
}

func TestShutdownDrainsAllWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, err := NewBuilder().WithEngineFactory(newTestFakeEngineFactory(echoHandler)).Build()
	require.NoError(t, err)

	_, err = h.AddActor(context.Background(), wasmWithToken(echoToken))
	require.NoError(t, err)

	h.Shutdown()
	assert.Empty(t, h.Actors())
}
