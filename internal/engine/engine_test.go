package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeEngineCallInvokesHandler(t *testing.T) {
	handler := func(ctx context.Context, op string, msg []byte, cb HostCallback) ([]byte, error) {
		if op == "HandleRequest" {
			return append([]byte("echo:"), msg...), nil
		}
		return nil, nil
	}
	e := NewFakeEngine(1, []byte("module-v1"), nil, handler)

	out, err := e.Call(context.Background(), "HandleRequest", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(out))
}

func TestFakeEngineCallsHostCallback(t *testing.T) {
	var gotOp string
	cb := func(ctx context.Context, guestID uint64, binding, namespace, op string, payload []byte) ([]byte, error) {
		gotOp = op
		return []byte("from-host"), nil
	}
	handler := func(ctx context.Context, op string, msg []byte, cb HostCallback) ([]byte, error) {
		return cb(ctx, 1, "default", "wascc:keyvalue", "Get", msg)
	}
	e := NewFakeEngine(1, nil, cb, handler)

	out, err := e.Call(context.Background(), "HandleRequest", []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "from-host", string(out))
	assert.Equal(t, "Get", gotOp)
}

func TestFakeEngineReplaceModuleAndClose(t *testing.T) {
	e := NewFakeEngine(1, []byte("v1"), nil, nil)
	require.NoError(t, e.ReplaceModule(context.Background(), []byte("v2")))
	assert.False(t, e.Closed())
	require.NoError(t, e.Close(context.Background()))
	assert.True(t, e.Closed())
}

func TestErrTrapWrapsGuestEngineKind(t *testing.T) {
	err := ErrTrap(assert.AnError)
	assert.Contains(t, err.Error(), "failed to invoke actor")
}
