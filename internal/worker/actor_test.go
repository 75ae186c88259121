package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wasmhost/internal/bus/inproc"
	"wasmhost/internal/engine"
	"wasmhost/internal/invocation"
	"wasmhost/internal/middleware"
)

func TestActorWorkerHandlesInvocation(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := engine.NewFakeEngine(1, nil, nil, func(ctx context.Context, op string, msg []byte, cb engine.HostCallback) ([]byte, error) {
		return append([]byte("handled:"), msg...), nil
	})
	b := inproc.New(time.Second)
	w := NewActorWorker("Mabc", eng, middleware.NewPipeline(), b, nil)

	require.NoError(t, b.Subscribe("wasmbus.actor.mabc", w.Handle))
	w.Start(nil)

	inv := invocation.New(invocation.ActorEntity("Mcaller"), invocation.ActorEntity("Mabc"), "HandleRequest", []byte("hi"), "")
	resp, err := b.Invoke(context.Background(), "wasmbus.actor.mabc", inv)
	require.NoError(t, err)
	assert.Equal(t, "handled:hi", string(resp.Msg))

	w.Terminate()
	w.Wait()
	assert.True(t, eng.Closed())
}

func TestActorWorkerLiveUpdateHotSwaps(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := engine.NewFakeEngine(1, []byte("v1"), nil, nil)
	b := inproc.New(time.Second)
	w := NewActorWorker("Mabc", eng, middleware.NewPipeline(), b, nil)
	require.NoError(t, b.Subscribe("wasmbus.actor.mabc", w.Handle))
	w.Start(nil)
	defer func() { w.Terminate(); w.Wait() }()

	inv := invocation.New(invocation.ActorEntity("Mcaller"), invocation.ActorEntity("Mabc"), OpPerformLiveUpdate, []byte("v2"), "")
	resp, err := b.Invoke(context.Background(), "wasmbus.actor.mabc", inv)
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
}

func TestActorWorkerCascadeDeconfigureOnTermination(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := engine.NewFakeEngine(1, nil, nil, nil)
	b := inproc.New(time.Second)

	var removedActor string
	require.NoError(t, b.Subscribe("wasmbus.provider.wascc.keyvalue.default.mabc", func(ctx context.Context, inv invocation.Invocation) invocation.Response {
		removedActor = inv.Origin.Subject
		return invocation.Ok(inv, nil)
	}))

	bindings := func(actorSubject string) []Binding {
		return []Binding{{CapID: "wascc:keyvalue", Binding: "default"}}
	}
	w := NewActorWorker("Mabc", eng, middleware.NewPipeline(), b, bindings)
	require.NoError(t, b.Subscribe("wasmbus.actor.mabc", w.Handle))
	w.Start(nil)

	w.Terminate()
	w.Wait()

	assert.Equal(t, "Mabc", removedActor)
}
