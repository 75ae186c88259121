package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wasmhost/internal/invocation"
	"wasmhost/internal/middleware"
	"wasmhost/internal/plugin"
)

func TestBoundPairWorkerRoutesThroughPlugin(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr := plugin.NewManager()
	require.NoError(t, mgr.Add("source1", "wascc:keyvalue", &plugin.FakeProvider{
		CapID: "wascc:keyvalue",
		Handler: func(originActor, operation string, msg []byte) ([]byte, error) {
			return []byte(originActor + "/" + operation), nil
		},
	}, nil))

	w := NewBoundPairWorker("wascc:keyvalue", "source1", "Mabc", mgr, middleware.NewPipeline(), nil)
	go w.base.Run(w.process, nil)
	defer func() { w.Terminate(); w.Wait() }()

	inv := invocation.New(invocation.ActorEntity("Mabc"), invocation.CapabilityEntity("wascc:keyvalue", "source1"), "Get", nil, "")
	resp := w.Handle(context.Background(), inv)
	require.Empty(t, resp.Error)
	assert.Equal(t, "Mabc/Get", string(resp.Msg))
}

func TestBoundPairWorkerIsolatedFromOtherBinding(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr := plugin.NewManager()
	require.NoError(t, mgr.Add("source1", "wascc:keyvalue", &plugin.FakeProvider{
		CapID:   "wascc:keyvalue",
		Handler: func(originActor, operation string, msg []byte) ([]byte, error) { return []byte("source1"), nil },
	}, nil))
	require.NoError(t, mgr.Add("source2", "wascc:keyvalue", &plugin.FakeProvider{
		CapID:   "wascc:keyvalue",
		Handler: func(originActor, operation string, msg []byte) ([]byte, error) { return []byte("source2"), nil },
	}, nil))

	w1 := NewBoundPairWorker("wascc:keyvalue", "source1", "Mabc", mgr, middleware.NewPipeline(), nil)
	go w1.base.Run(w1.process, nil)
	defer func() { w1.Terminate(); w1.Wait() }()

	inv := invocation.New(invocation.ActorEntity("Mabc"), invocation.CapabilityEntity("wascc:keyvalue", "source1"), "Get", nil, "")
	resp := w1.Handle(context.Background(), inv)
	assert.Equal(t, "source1", string(resp.Msg))
}
