package authz

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasmhost/internal/claims"
	"wasmhost/internal/invocation"
	"wasmhost/pkg/herrors"
	"wasmhost/pkg/logging"
)

func TestDefaultAuthorizerCanLoad(t *testing.T) {
	var buf bytes.Buffer
	logging.InitForCLI(logging.LevelInfo, &buf)

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &DefaultAuthorizer{Now: func() time.Time { return fixed }}

	valid := claims.Claims{Subject: "Mabc", NotBefore: fixed.Add(-time.Hour), Expiry: fixed.Add(time.Hour)}
	require.NoError(t, a.CanLoad(valid))

	expired := claims.Claims{Subject: "Mdef", Expiry: fixed.Add(-time.Minute)}
	err := a.CanLoad(expired)
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.Authorization))
}

func TestDefaultAuthorizerCanInvokeCapabilityRequiresAttestation(t *testing.T) {
	a := NewDefaultAuthorizer()
	target := invocation.CapabilityEntity("wascc:messaging", "default")

	attested := claims.Claims{Subject: "Mabc", Caps: []string{"wascc:messaging"}}
	assert.NoError(t, a.CanInvoke(attested, target, "Publish"))

	unattested := claims.Claims{Subject: "Mdef", Caps: []string{"wascc:keyvalue"}}
	err := a.CanInvoke(unattested, target, "Publish")
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.Authorization))
}

func TestDefaultAuthorizerCanInvokeActorAlwaysAllowed(t *testing.T) {
	a := NewDefaultAuthorizer()
	target := invocation.ActorEntity("Mdef")
	caller := claims.Claims{Subject: "Mabc"}
	assert.NoError(t, a.CanInvoke(caller, target, "HandleRequest"))
}
