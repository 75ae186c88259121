package claims

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRegisterDuplicateRejected(t *testing.T) {
	s := NewStore()
	c := Claims{Subject: "Mabc"}

	_, err := s.Register(c)
	require.NoError(t, err)

	_, err = s.Register(c)
	require.Error(t, err)
}

func TestStoreRegisterAndLookupByGuestID(t *testing.T) {
	s := NewStore()
	c := Claims{Subject: "Mabc", Caps: []string{"wascc:keyvalue"}}

	id, err := s.Register(c)
	require.NoError(t, err)

	got, ok := s.ClaimsForGuestID(id)
	require.True(t, ok)
	assert.Equal(t, "Mabc", got.Subject)
	assert.True(t, got.HasCapability("wascc:keyvalue"))
}

func TestStoreUnregisterRemovesGuestIDMapping(t *testing.T) {
	s := NewStore()
	id, err := s.Register(Claims{Subject: "Mabc"})
	require.NoError(t, err)

	s.Unregister("Mabc")

	_, ok := s.Lookup("Mabc")
	assert.False(t, ok)
	_, ok = s.SubjectForGuestID(id)
	assert.False(t, ok)
}

func TestClaimsValidWindow(t *testing.T) {
	now := time.Now()
	c := Claims{
		NotBefore: now.Add(-time.Hour),
		Expiry:    now.Add(time.Hour),
	}
	assert.NoError(t, c.Valid(now))

	expired := Claims{Expiry: now.Add(-time.Minute)}
	assert.Error(t, expired.Valid(now))

	notYetValid := Claims{NotBefore: now.Add(time.Minute)}
	assert.Error(t, notYetValid.Valid(now))
}

func TestParseUnverifiedRoundTrip(t *testing.T) {
	// A JWT with an unsigned ("none") algorithm is sufficient here because
	// ParseUnverified deliberately skips signature verification; real
	// signature checking belongs to an injected TokenVerifier.
	token := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
		"eyJzdWIiOiJNYWJjIiwiaXNzIjoiYWNjdCIsIm5hbWUiOiJlY2hvIiwiY2FwcyI6WyJ3YXNjYzprZXl2YWx1ZSJdfQ."

	c, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "Mabc", c.Subject)
	assert.Equal(t, "echo", c.Name)
	assert.Contains(t, c.Caps, "wascc:keyvalue")
}

func TestClaimsDebugYAMLOmitsZeroValues(t *testing.T) {
	c := Claims{Subject: "Mabc", Caps: []string{"wascc:keyvalue"}}

	dump, err := c.DebugYAML()
	require.NoError(t, err)
	assert.Contains(t, dump, "subject: Mabc")
	assert.Contains(t, dump, "wascc:keyvalue")
	assert.NotContains(t, dump, "not_before")
	assert.NotContains(t, dump, "expiry")
}
