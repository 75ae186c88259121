package natsbus

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasmhost/internal/invocation"
)

func startTestServer(t *testing.T) *server.Server {
	t.Helper()
	s, err := server.NewServer(&server.Options{Port: -1})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(4 * time.Second) {
		t.Fatal("nats test server failed to start")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestBusInvokeRoundTrip(t *testing.T) {
	s := startTestServer(t)

	b, err := New(Config{ServerURL: s.ClientURL(), RPCTimeout: time.Second})
	require.NoError(t, err)
	defer b.Close()

	err = b.Subscribe("wasmbus.actor.test", func(ctx context.Context, inv invocation.Invocation) invocation.Response {
		return invocation.Ok(inv, []byte("pong"))
	})
	require.NoError(t, err)

	inv := invocation.New(invocation.ActorEntity("caller"), invocation.ActorEntity("test"), "ping", []byte("ping"), "")
	resp, err := b.Invoke(context.Background(), "wasmbus.actor.test", inv)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, resp.InvocationID)
	assert.Equal(t, "pong", string(resp.Msg))
	assert.Empty(t, resp.Error)
}

func TestBusInvokeTimeout(t *testing.T) {
	s := startTestServer(t)

	b, err := New(Config{ServerURL: s.ClientURL(), RPCTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	inv := invocation.New(invocation.ActorEntity("caller"), invocation.ActorEntity("nobody"), "ping", nil, "")
	resp, err := b.Invoke(context.Background(), "wasmbus.actor.nobody", inv)
	require.NoError(t, err)
	assert.Equal(t, invocation.TimeoutTag, resp.Error)
}

func TestBusUnsubscribeIdempotent(t *testing.T) {
	s := startTestServer(t)

	b, err := New(Config{ServerURL: s.ClientURL()})
	require.NoError(t, err)
	defer b.Close()

	err = b.Subscribe("wasmbus.actor.x", func(ctx context.Context, inv invocation.Invocation) invocation.Response {
		return invocation.Ok(inv, nil)
	})
	require.NoError(t, err)

	require.NoError(t, b.Unsubscribe("wasmbus.actor.x"))
	require.NoError(t, b.Unsubscribe("wasmbus.actor.x"))
}
