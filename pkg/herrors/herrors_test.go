package herrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndIs(t *testing.T) {
	err := New(Authorization, "capability not attested")
	assert.True(t, Is(err, Authorization))
	assert.False(t, Is(err, IO))
}

func TestWrapNilCause(t *testing.T) {
	assert.Nil(t, Wrap(IO, "read failed", nil))
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(GuestEngine, "call failed", cause)
	assert.True(t, errors.Is(err, cause))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, GuestEngine, kind)
}

func TestErrorMessage(t *testing.T) {
	err := New(Misc, "unexpected")
	assert.Equal(t, "Misc: unexpected", err.Error())

	wrapped := Wrap(IO, "open", errors.New("no such file"))
	assert.Equal(t, "IO: open: no such file", wrapped.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Authorization", Authorization.String())
	assert.Equal(t, "Misc", Kind(999).String())
}
