package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasmhost/internal/invocation"
)

func newTestRoute(capID string) Route {
	return Route{
		InvCh:   make(chan invocation.Invocation),
		RespCh:  make(chan invocation.Response),
		TermCh:  make(chan struct{}),
		CapID:   capID,
		Binding: "default",
	}
}

func TestAddGetRemoveRoute(t *testing.T) {
	r := New()
	route := newTestRoute("")

	require.NoError(t, r.AddRoute("", "Mabc", route))

	got, ok := r.GetRoute("", "Mabc")
	require.True(t, ok)
	assert.Equal(t, route.InvCh, got.InvCh)

	r.RemoveRoute("", "Mabc")
	_, ok = r.GetRoute("", "Mabc")
	assert.False(t, ok)
}

func TestAddRouteDuplicateRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.AddRoute("", "Mabc", newTestRoute("")))
	assert.Error(t, r.AddRoute("", "Mabc", newTestRoute("")))
}

func TestRemoveRouteIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.AddRoute("", "Mabc", newTestRoute("")))
	r.RemoveRoute("", "Mabc")
	assert.NotPanics(t, func() { r.RemoveRoute("", "Mabc") })
}

func TestEmptyBindingMatchesDefault(t *testing.T) {
	r := New()
	require.NoError(t, r.AddRoute("default", "wascc:keyvalue", newTestRoute("wascc:keyvalue")))

	_, ok := r.GetRoute("", "wascc:keyvalue")
	assert.True(t, ok)
}

func TestAllCapabilitiesExcludesActorRoutes(t *testing.T) {
	r := New()
	require.NoError(t, r.AddRoute("", "Mabc", newTestRoute("")))
	require.NoError(t, r.AddRoute("default", "wascc:keyvalue", newTestRoute("wascc:keyvalue")))
	require.NoError(t, r.AddRoute("source2", "wascc:keyvalue", newTestRoute("wascc:keyvalue")))

	caps := r.AllCapabilities()
	assert.Len(t, caps, 2)
}

func TestTerminateClosesTermChannel(t *testing.T) {
	r := New()
	route := newTestRoute("")
	require.NoError(t, r.AddRoute("", "Mabc", route))

	r.Terminate("", "Mabc")

	_, open := <-route.TermCh
	assert.False(t, open)

	_, ok := r.GetRoute("", "Mabc")
	assert.False(t, ok)
}
