package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableULID(t *testing.T) {
	a := New()
	b := New()
	_, err := ulid.ParseStrict(a)
	require.NoError(t, err)
	assert.Less(t, a, b)
}

func TestSecureHex(t *testing.T) {
	v, err := SecureHex(64)
	require.NoError(t, err)
	assert.Len(t, v, 128)

	w, err := SecureHex(64)
	require.NoError(t, err)
	assert.NotEqual(t, v, w)

	_, err = SecureHex(0)
	assert.Error(t, err)
}
